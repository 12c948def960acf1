package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/NowakAdmin/BoardConfigurator/internal/config"
	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
	"github.com/NowakAdmin/BoardConfigurator/internal/payload"
	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
)

// valueFlags collects repeated -field name=value flags.
type valueFlags map[string]string

func (v valueFlags) String() string {
	parts := make([]string, 0, len(v))
	for name, value := range v {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, ",")
}

func (v valueFlags) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected name=value, got %q", raw)
	}
	v[strings.TrimSpace(name)] = value
	return nil
}

func runSend(args []string) int {
	app, closeFn, err := newApp()
	if err != nil {
		return report(err)
	}
	defer closeFn()

	values := valueFlags{}
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	port := fs.String("port", app.settings.Port, "Serial port, e.g. COM3 or /dev/ttyUSB0")
	baud := fs.Int("baud", app.settings.BaudRate, "Baud rate")
	wait := fs.Duration("wait", 3*time.Second, "How long to print board replies after sending")
	fs.Var(values, "field", "Form value name=value (repeatable); saved values are used otherwise")
	_ = fs.Parse(args)

	app.settings.BaudRate = *baud
	app.ctrl.SelectPort(*port)
	for name, value := range values {
		app.ctrl.SetValue(name, value)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatcher := app.ctrl.Dispatcher()
	go dispatcher.Run(ctx)
	app.ctrl.Subscribe(func(line string) {
		fmt.Println("< " + line)
	})

	sealed, err := app.ctrl.Send()
	if err != nil {
		return report(err)
	}
	fmt.Printf("> %s\n", sealed.Line)
	fmt.Println("The settings were sent successfully.")

	select {
	case <-ctx.Done():
	case <-time.After(*wait):
	}

	msg, err := app.ctrl.Disconnect()
	fmt.Println(msg)
	return report(err)
}

func runMonitor(args []string) int {
	app, closeFn, err := newApp()
	if err != nil {
		return report(err)
	}
	defer closeFn()

	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	port := fs.String("port", app.settings.Port, "Serial port")
	baud := fs.Int("baud", app.settings.BaudRate, "Baud rate")
	verify := fs.Bool("verify", false, "Check crc32 of JSON lines seen on the port")
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	encoder := payload.Encoder{SortKeys: app.settings.SortKeys}
	dispatcher := app.ctrl.Dispatcher()
	app.ctrl.Subscribe(func(line string) {
		fmt.Println(line)
		if !*verify || !strings.HasPrefix(line, "{") {
			return
		}
		if _, verr := encoder.Verify([]byte(line)); verr != nil {
			fmt.Printf("  ! %v\n", verr)
		} else {
			fmt.Println("  crc32 ok")
		}
	})

	if err = app.ctrl.Session().Connect(*port, *baud); err != nil {
		return report(err)
	}
	fmt.Fprintf(os.Stderr, "Listening on %s, Ctrl+C to stop\n", *port)

	dispatcher.Run(ctx)

	msg, err := app.ctrl.Disconnect()
	fmt.Fprintln(os.Stderr, msg)
	return report(err)
}

func runPorts(_ []string) int {
	ports, err := serialport.List()
	if err != nil {
		return report(err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return 0
	}

	for _, p := range ports {
		fmt.Println(p.String())
	}
	return 0
}

func runFields(args []string) int {
	app, closeFn, err := newApp()
	if err != nil {
		return report(err)
	}
	defer closeFn()

	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tDEFAULT\tTYPE\tVALUE")
		for _, f := range app.ctrl.Fields() {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", f.Name, f.Size, f.Default, f.Type, app.ctrl.Value(f.Name))
		}
		_ = w.Flush()
		fmt.Printf("\n%s\n", app.settings.FieldsPath())
		return 0

	case "add":
		fs := flag.NewFlagSet("fields add", flag.ExitOnError)
		name := fs.String("name", "", "Field name")
		size := fs.Int("size", 32, "Declared maximum length")
		def := fs.String("default", "", "Default value")
		typ := fs.String("type", string(fields.TypeString), "str, int or bool")
		_ = fs.Parse(args[1:])

		fieldType, err := fields.ParseType(*typ)
		if err != nil {
			return report(&usageError{msg: err.Error()})
		}

		if err = app.ctrl.AddField(fields.Field{Name: *name, Size: *size, Default: *def, Type: fieldType}); err != nil {
			return report(err)
		}
		fmt.Printf("Field %s added.\n", *name)
		return report(app.ctrl.SaveSettings())

	case "remove":
		if len(args) < 2 {
			return report(&usageError{msg: "usage: board-configurator fields remove NAME"})
		}
		if err := app.ctrl.RemoveField(args[1]); err != nil {
			return report(err)
		}
		fmt.Printf("Field %s removed.\n", args[1])
		return report(app.ctrl.SaveSettings())

	default:
		return report(&usageError{msg: "usage: board-configurator fields [list|add|remove]"})
	}
}

func runConfigure(args []string) int {
	cfg, loadErr := config.LoadOrCreateDefault()
	if loadErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", loadErr)
		cfg = config.Default()
	}

	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	reset := fs.Bool("reset", false, "Replace an unreadable settings file with defaults")
	port := fs.String("port", cfg.Port, "Serial port, e.g. COM3 or /dev/ttyUSB0")
	baud := fs.Int("baud", cfg.BaudRate, "Baud rate")
	driver := fs.String("driver", cfg.Driver, "Serial driver: bugst or tarm")
	timeout := fs.Int("read-timeout-ms", cfg.ReadTimeoutMs, "Serial read timeout in milliseconds")
	sortKeys := fs.Bool("sort-keys", cfg.SortKeys, "Sort keys before computing crc32 (must match the firmware)")
	fieldsFile := fs.String("fields", cfg.FieldsFile, "Field definition file")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	_ = fs.Parse(args)

	if loadErr != nil && !*reset {
		return report(&usageError{msg: "settings file left untouched; fix it or run configure -reset"})
	}

	if _, err := serialport.NewOpener(*driver); err != nil {
		return report(&usageError{msg: err.Error()})
	}

	values := valueFlags{}
	for _, raw := range fs.Args() {
		if err := values.Set(raw); err != nil {
			return report(&usageError{msg: err.Error()})
		}
	}

	cfg.Port = *port
	cfg.BaudRate = *baud
	cfg.Driver = *driver
	cfg.ReadTimeoutMs = *timeout
	cfg.SortKeys = *sortKeys
	cfg.FieldsFile = *fieldsFile
	cfg.LogLevel = *logLevel
	for name, value := range values {
		cfg.Values[name] = value
	}

	if err := config.Save(cfg); err != nil {
		return report(err)
	}

	fmt.Printf("Settings saved: %s\n", config.Path())
	if len(values) > 0 {
		fmt.Printf("Values updated: %s\n", strconv.Quote(values.String()))
	}
	return 0
}
