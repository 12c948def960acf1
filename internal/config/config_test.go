package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
)

func TestLoadOrCreateDefault(t *testing.T) {
	t.Setenv("BOARD_CONFIGURATOR_HOME", t.TempDir())

	cfg, err := LoadOrCreateDefault()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.FileExists(t, Path())

	cfg.Port = "COM7"
	cfg.Values["SSID"] = "net"
	require.NoError(t, Save(cfg))

	again, err := LoadOrCreateDefault()
	require.NoError(t, err)
	assert.Equal(t, "COM7", again.Port)
	assert.Equal(t, "net", again.Values["SSID"])
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"COM3","baud_rate":0,"driver":"","read_timeout_ms":-5}`), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "COM3", cfg.Port)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, "bugst", cfg.Driver)
	assert.Equal(t, 100, cfg.ReadTimeoutMs)
	assert.NotNil(t, cfg.Values)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":`), 0o600))

	_, err := LoadFrom(path)

	var fileErr *fields.FileError
	require.True(t, errors.As(err, &fileErr))
	assert.Equal(t, path, fileErr.Path)
}

func TestFieldsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BOARD_CONFIGURATOR_HOME", home)

	cfg := Default()
	assert.Equal(t, filepath.Join(home, "fields.txt"), cfg.FieldsPath())

	cfg.FieldsFile = "boards/esp32.txt"
	assert.Equal(t, filepath.Join(home, "boards", "esp32.txt"), cfg.FieldsPath())

	abs := filepath.Join(t.TempDir(), "f.txt")
	cfg.FieldsFile = abs
	assert.Equal(t, abs, cfg.FieldsPath())
}
