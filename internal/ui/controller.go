package ui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NowakAdmin/BoardConfigurator/internal/config"
	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
	"github.com/NowakAdmin/BoardConfigurator/internal/payload"
	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
	"github.com/NowakAdmin/BoardConfigurator/internal/session"
)

const (
	maxLogLines = 2000

	MsgDisconnected        = "Disconnected from board."
	MsgAlreadyDisconnected = "Already disconnected."
)

type Options struct {
	Settings *config.Settings
	// SettingsPath is where successful sends persist the form; empty
	// disables persistence.
	SettingsPath string
	Fields       *fields.Set
	FieldsPath   string
	Opener       serialport.Opener
	Dispatcher   *Dispatcher
	// SettingsErr and FieldsErr are the problems met while loading the
	// files. A pending SettingsErr keeps the settings file from being
	// overwritten.
	SettingsErr error
	FieldsErr   error
}

// Controller holds the form state and the serial session behind both
// front-ends. Board output reaches it only through the dispatcher.
type Controller struct {
	settings     *config.Settings
	settingsPath string
	fields       *fields.Set
	fieldsPath   string
	encoder      payload.Encoder
	session      *session.Session
	ui           *Dispatcher
	logger       zerolog.Logger
	settingsErr  error
	problems     []error

	mu          sync.Mutex
	lines       []string
	subscribers []func(line string)
}

func NewController(opts Options, logger zerolog.Logger) *Controller {
	settings := opts.Settings
	if settings == nil {
		settings = config.Default()
	}
	if settings.Values == nil {
		settings.Values = map[string]string{}
	}

	set := opts.Fields
	if set == nil {
		set = fields.Defaults()
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}

	c := &Controller{
		settings:     settings,
		settingsPath: opts.SettingsPath,
		fields:       set,
		fieldsPath:   opts.FieldsPath,
		encoder:      payload.Encoder{SortKeys: settings.SortKeys},
		ui:           dispatcher,
		logger:       logger.With().Str("component", "controller").Logger(),
		settingsErr:  opts.SettingsErr,
	}

	for _, err := range []error{opts.SettingsErr, opts.FieldsErr} {
		if err != nil {
			c.problems = append(c.problems, err)
			c.appendLog("Error: " + err.Error())
		}
	}

	c.session = session.New(session.Options{
		Opener:      opts.Opener,
		ReadTimeout: time.Duration(settings.ReadTimeoutMs) * time.Millisecond,
		OnLine: func(line string) {
			c.ui.Post(func() {
				c.appendLog(line)
			})
		},
	}, logger)

	return c
}

func (c *Controller) Dispatcher() *Dispatcher {
	return c.ui
}

func (c *Controller) Session() *session.Session {
	return c.session
}

func (c *Controller) Fields() []fields.Field {
	return c.fields.Fields()
}

func (c *Controller) Value(name string) string {
	return c.settings.Values[name]
}

func (c *Controller) SetValue(name string, value string) {
	c.settings.Values[name] = value
}

func (c *Controller) Port() string {
	return c.settings.Port
}

func (c *Controller) SelectPort(name string) {
	c.settings.Port = strings.TrimSpace(name)
}

func (c *Controller) Connected() bool {
	return c.session.Connected()
}

// Send validates the form, connects when needed and writes one sealed
// payload. Nothing is written when validation fails.
func (c *Controller) Send() (payload.Sealed, error) {
	p, err := c.fields.Build(c.settings.Values)
	if err != nil {
		return payload.Sealed{}, err
	}

	port := c.settings.Port
	if port == "" {
		return payload.Sealed{}, &fields.ValidationError{Message: "please select the COM port"}
	}

	sealed := c.encoder.Seal(p)
	c.logger.Debug().Bytes("canonical", sealed.Canonical).Str("crc32", sealed.Checksum).Msg("payload sealed")

	if err = c.session.Connect(port, c.settings.BaudRate); err != nil {
		return payload.Sealed{}, err
	}

	if err = c.session.Send(sealed.Line); err != nil {
		return payload.Sealed{}, err
	}

	c.logger.Info().Str("port", port).Str("crc32", sealed.Checksum).Msg("settings sent")
	c.persist()
	return sealed, nil
}

func (c *Controller) persist() {
	if err := c.SaveSettings(); err != nil {
		c.logger.Warn().Err(err).Msg("couldn't save settings")
		c.appendLog("Couldn't save settings: " + err.Error())
	}
}

// Problems lists the file errors found at startup.
func (c *Controller) Problems() []error {
	return append([]error(nil), c.problems...)
}

// SaveSettings writes the settings file. It refuses while the file on disk
// could not be read, so a hand-edited file is not replaced by defaults.
func (c *Controller) SaveSettings() error {
	if c.settingsPath == "" {
		return nil
	}
	if c.settingsErr != nil {
		return fmt.Errorf("not overwriting unreadable settings, fix or remove the file first: %w", c.settingsErr)
	}
	return config.SaveTo(c.settingsPath, c.settings)
}

// Disconnect closes the connection and reports what happened in the log.
func (c *Controller) Disconnect() (string, error) {
	closed, err := c.session.Disconnect()
	msg := MsgAlreadyDisconnected
	if closed {
		msg = MsgDisconnected
	}

	c.appendLog(msg)
	return msg, err
}

// Close releases the connection before the application exits.
func (c *Controller) Close() {
	if _, err := c.session.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("close on exit")
	}
}

func (c *Controller) AddField(f fields.Field) error {
	if err := c.fields.Add(f); err != nil {
		return err
	}
	return c.saveFields()
}

func (c *Controller) RemoveField(name string) error {
	if !c.fields.Remove(name) {
		return &fields.ValidationError{Field: name, Message: "no such field"}
	}
	delete(c.settings.Values, name)
	return c.saveFields()
}

func (c *Controller) saveFields() error {
	if c.fieldsPath == "" {
		return nil
	}
	return fields.Save(c.fieldsPath, c.fields)
}

// Log returns a snapshot of the board log.
func (c *Controller) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subscribe registers fn for every new log line. fn runs on the UI thread
// for board output.
func (c *Controller) Subscribe(fn func(line string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Controller) appendLog(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	if len(c.lines) > maxLogLines {
		c.lines = c.lines[len(c.lines)-maxLogLines:]
	}
	subscribers := make([]func(string), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(line)
	}
}

// IsUserError reports whether err should be shown to the operator as-is.
func IsUserError(err error) bool {
	var validation *fields.ValidationError
	var connection *session.ConnectionError
	var file *fields.FileError
	return errors.As(err, &validation) || errors.As(err, &connection) || errors.As(err, &file)
}
