package ui

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NowakAdmin/BoardConfigurator/internal/config"
	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
	"github.com/NowakAdmin/BoardConfigurator/internal/payload"
	"github.com/NowakAdmin/BoardConfigurator/internal/serialport/serialporttest"
	"github.com/NowakAdmin/BoardConfigurator/internal/session"
)

type fixture struct {
	ctrl         *Controller
	port         *serialporttest.Port
	opener       *serialporttest.Opener
	settingsPath string
	fieldsPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	settings := config.Default()
	settings.ReadTimeoutMs = 5
	settings.Port = "COM3"

	port := serialporttest.New()
	opener := serialporttest.NewOpener(port)
	f := &fixture{
		port:         port,
		opener:       opener,
		settingsPath: filepath.Join(dir, "settings.json"),
		fieldsPath:   filepath.Join(dir, "fields.txt"),
	}

	f.ctrl = NewController(Options{
		Settings:     settings,
		SettingsPath: f.settingsPath,
		Fields:       fields.Defaults(),
		FieldsPath:   f.fieldsPath,
		Opener:       opener.Open,
		Dispatcher:   startDispatcher(t),
	}, zerolog.New(zerolog.NewTestWriter(t)))
	t.Cleanup(f.ctrl.Close)

	return f
}

func (f *fixture) fillWiFi() {
	f.ctrl.SetValue("SSID", "net")
	f.ctrl.SetValue("pass", "pw")
	f.ctrl.SetValue("key", "k1")
}

func TestSendEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()

	sealed, err := f.ctrl.Send()
	require.NoError(t, err)

	canonical := `{"SSID":"net","pass":"pw","key":"k1"}`
	sum := payload.ChecksumBytes([]byte(canonical))
	assert.Equal(t, canonical, string(sealed.Canonical))
	assert.Equal(t, sum, sealed.Checksum)
	assert.Equal(t, []string{`{"SSID":"net","pass":"pw","key":"k1","crc32":"` + sum + "\"}\n"}, f.port.Writes())
	assert.Equal(t, "COM3", f.port.Name)
	assert.Equal(t, 115200, f.port.Baud)

	saved, err := config.LoadFrom(f.settingsPath)
	require.NoError(t, err)
	assert.Equal(t, "COM3", saved.Port)
	assert.Equal(t, map[string]string{"SSID": "net", "pass": "pw", "key": "k1"}, saved.Values)
}

func TestSendSortedKeys(t *testing.T) {
	f := newFixture(t)
	f.ctrl.encoder = payload.Encoder{SortKeys: true}
	f.fillWiFi()

	sealed, err := f.ctrl.Send()
	require.NoError(t, err)
	assert.Equal(t, `{"SSID":"net","key":"k1","pass":"pw"}`, string(sealed.Canonical))
}

func TestSendValidationAbortsBeforeConnecting(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetValue("SSID", "net")

	_, err := f.ctrl.Send()

	var validation *fields.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "pass", validation.Field)
	assert.Zero(t, f.opener.Opened())
	assert.NoFileExists(t, f.settingsPath)
}

func TestSendRequiresPort(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()
	f.ctrl.SelectPort("  ")

	_, err := f.ctrl.Send()

	var validation *fields.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Zero(t, f.opener.Opened())
}

func TestSendConnectionError(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()
	f.opener.OpenErr = errors.New("access denied")

	_, err := f.ctrl.Send()

	var connErr *session.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.False(t, f.ctrl.Connected())
	assert.NoFileExists(t, f.settingsPath)
}

func TestBoardLinesReachLogOnUIThread(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()

	received := make(chan string, 4)
	f.ctrl.Subscribe(func(line string) {
		received <- line
	})

	_, err := f.ctrl.Send()
	require.NoError(t, err)

	f.port.Feed("Success\n")

	select {
	case line := <-received:
		assert.Equal(t, "Success", line)
	case <-time.After(time.Second):
		t.Fatal("board line never reached the log")
	}
	assert.Equal(t, []string{"Success"}, f.ctrl.Log())
}

func TestCRCErrorResendsOnce(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()

	sealed, err := f.ctrl.Send()
	require.NoError(t, err)

	f.port.Feed("CRC ERROR\n")

	assert.Eventually(t, func() bool {
		return len(f.port.Writes()) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	writes := f.port.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, string(sealed.Line)+"\n", writes[1])
	assert.Equal(t, int64(1), f.ctrl.Session().Resends())
}

func TestDisconnectMessages(t *testing.T) {
	f := newFixture(t)
	f.fillWiFi()
	_, err := f.ctrl.Send()
	require.NoError(t, err)

	msg, err := f.ctrl.Disconnect()
	require.NoError(t, err)
	assert.Equal(t, MsgDisconnected, msg)

	msg, err = f.ctrl.Disconnect()
	require.NoError(t, err)
	assert.Equal(t, MsgAlreadyDisconnected, msg)

	assert.Equal(t, []string{MsgDisconnected, MsgAlreadyDisconnected}, f.ctrl.Log())
}

func TestFieldEditorPersists(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.AddField(fields.Field{Name: "channel", Size: 2, Default: "6", Type: fields.TypeInt}))
	f.ctrl.SetValue("key", "k1")
	require.NoError(t, f.ctrl.RemoveField("key"))
	assert.Error(t, f.ctrl.RemoveField("key"))
	assert.Empty(t, f.ctrl.Value("key"))

	loaded, err := fields.Load(f.fieldsPath)
	require.NoError(t, err)

	names := []string{}
	for _, field := range loaded.Fields() {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"SSID", "pass", "channel"}, names)
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(&fields.ValidationError{Message: "x"}))
	assert.True(t, IsUserError(&session.ConnectionError{Op: "open", Err: errors.New("x")}))
	assert.True(t, IsUserError(&fields.FileError{Path: "f", Err: errors.New("x")}))
	assert.False(t, IsUserError(errors.New("boom")))
}

func TestSendWithoutFieldsWritesNothing(t *testing.T) {
	port := serialporttest.New()
	opener := serialporttest.NewOpener(port)
	settings := config.Default()
	settings.Port = "COM3"
	settingsPath := filepath.Join(t.TempDir(), "settings.json")

	ctrl := NewController(Options{
		Settings:     settings,
		SettingsPath: settingsPath,
		Fields:       fields.NewSet(),
		Opener:       opener.Open,
		Dispatcher:   startDispatcher(t),
	}, zerolog.New(zerolog.NewTestWriter(t)))
	t.Cleanup(ctrl.Close)

	_, err := ctrl.Send()

	var validation *fields.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Zero(t, opener.Opened())
	assert.Empty(t, port.Writes())
	assert.NoFileExists(t, settingsPath)
}

func TestUnreadableSettingsAreNotOverwritten(t *testing.T) {
	settingsPath := filepath.Join(t.TempDir(), "settings.json")
	broken := []byte(`{"port": "COM3",`)
	require.NoError(t, os.WriteFile(settingsPath, broken, 0o644))

	_, loadErr := config.LoadFrom(settingsPath)
	require.Error(t, loadErr)

	settings := config.Default()
	settings.Port = "COM3"
	port := serialporttest.New()
	ctrl := NewController(Options{
		Settings:     settings,
		SettingsPath: settingsPath,
		Fields:       fields.Defaults(),
		Opener:       serialporttest.NewOpener(port).Open,
		Dispatcher:   startDispatcher(t),
		SettingsErr:  loadErr,
	}, zerolog.New(zerolog.NewTestWriter(t)))
	t.Cleanup(ctrl.Close)

	assert.Equal(t, []error{loadErr}, ctrl.Problems())
	assert.Equal(t, []string{"Error: " + loadErr.Error()}, ctrl.Log())

	ctrl.SetValue("SSID", "net")
	ctrl.SetValue("pass", "pw")
	ctrl.SetValue("key", "k1")
	_, err := ctrl.Send()
	require.NoError(t, err)
	assert.Len(t, port.Writes(), 1)

	assert.ErrorIs(t, ctrl.SaveSettings(), loadErr)
	assert.True(t, IsUserError(ctrl.SaveSettings()))

	data, err := os.ReadFile(settingsPath)
	require.NoError(t, err)
	assert.Equal(t, broken, data)
}
