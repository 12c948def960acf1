package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/NowakAdmin/BoardConfigurator/internal/config"
	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
	"github.com/NowakAdmin/BoardConfigurator/internal/tray"
	"github.com/NowakAdmin/BoardConfigurator/internal/ui"
	"github.com/NowakAdmin/BoardConfigurator/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		args := os.Args[2:]
		switch os.Args[1] {
		case "tray":
			runTray()
			return
		case "send":
			os.Exit(runSend(args))
		case "monitor":
			os.Exit(runMonitor(args))
		case "ports":
			os.Exit(runPorts(args))
		case "fields":
			os.Exit(runFields(args))
		case "configure":
			os.Exit(runConfigure(args))
		case "version":
			fmt.Printf("BoardConfigurator %s\n", version.Version)
			return
		case "help", "-h", "--help":
			printUsage(os.Stdout)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
			printUsage(os.Stderr)
			os.Exit(2)
		}
	}

	runTray()
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: board-configurator [command]

Commands:
  tray        system tray front-end (default)
  send        send the form to the board once
  monitor     print everything the board writes
  ports       list serial ports
  fields      list, add or remove form fields
  configure   change settings and saved form values
  version     print the version
`)
}

func runTray() {
	app, closeFn, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	t := tray.New(app.ctrl, app.logPath, app.logger)
	t.Run()
}

type application struct {
	settings *config.Settings
	ctrl     *ui.Controller
	logger   zerolog.Logger
	logPath  string
}

// newApp loads settings and field definitions and wires the controller.
// Broken files are reported and replaced by defaults so the UI still starts.
func newApp() (*application, func(), error) {
	settings, settingsErr := config.LoadOrCreateDefault()
	if settingsErr != nil {
		settings = config.Default()
	}

	logPath := filepath.Join(config.LogDir(), "board-configurator.log")
	logger, closeFn, err := buildLogger(logPath, settings.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	if settingsErr != nil {
		logger.Error().Err(settingsErr).Msg("couldn't load settings, using defaults")
	}

	set, fieldsErr := fields.LoadOrCreateDefault(settings.FieldsPath())
	if fieldsErr != nil {
		logger.Error().Err(fieldsErr).Msg("couldn't load field definitions, starting with an empty form")
		set = fields.NewSet()
	}

	opener, err := serialport.NewOpener(settings.Driver)
	if err != nil {
		logger.Warn().Err(err).Str("driver", settings.Driver).Msg("falling back to the default serial driver")
		opener, _ = serialport.NewOpener(serialport.DriverBugst)
	}

	ctrl := ui.NewController(ui.Options{
		Settings:     settings,
		SettingsPath: config.Path(),
		Fields:       set,
		FieldsPath:   settings.FieldsPath(),
		Opener:       opener,
		SettingsErr:  settingsErr,
		FieldsErr:    fieldsErr,
	}, logger)

	for _, problem := range ctrl.Problems() {
		fmt.Fprintf(os.Stderr, "Error: %v\n", problem)
	}

	app := &application{
		settings: settings,
		ctrl:     ctrl,
		logger:   logger,
		logPath:  logPath,
	}

	return app, func() {
		ctrl.Close()
		closeFn()
	}, nil
}

func buildLogger(logPath string, level string) (zerolog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	logger := zerolog.New(zerolog.MultiLevelWriter(console, f)).
		Level(lvl).
		With().
		Timestamp().
		Str("app", "board-configurator").
		Logger()

	return logger, func() {
		_ = f.Close()
	}, nil
}

// report prints err the way the operator should see it and returns the
// process exit code.
func report(err error) int {
	if err == nil {
		return 0
	}

	if ui.IsUserError(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	fmt.Fprintf(os.Stderr, "An error has occurred: %v\n", err)
	return 1
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}
