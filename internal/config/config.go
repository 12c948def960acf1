package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/NowakAdmin/BoardConfigurator/internal/fields"
	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
)

type Settings struct {
	Port          string            `json:"port"`
	BaudRate      int               `json:"baud_rate"`
	Driver        string            `json:"driver"`
	ReadTimeoutMs int               `json:"read_timeout_ms"`
	SortKeys      bool              `json:"sort_keys"`
	FieldsFile    string            `json:"fields_file,omitempty"`
	LogLevel      string            `json:"log_level"`
	Values        map[string]string `json:"values,omitempty"`
}

func Default() *Settings {
	return &Settings{
		BaudRate:      serialport.DefaultBaudRate,
		Driver:        serialport.DriverBugst,
		ReadTimeoutMs: 100,
		LogLevel:      "info",
		Values:        map[string]string{},
	}
}

// FieldsPath resolves the field definition file; relative paths are taken
// from the settings directory.
func (s *Settings) FieldsPath() string {
	path := strings.TrimSpace(s.FieldsFile)
	if path == "" {
		return filepath.Join(Dir(), "fields.txt")
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(Dir(), path)
	}
	return path
}

func LoadOrCreateDefault() (*Settings, error) {
	if _, err := os.Stat(Path()); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if errSave := Save(cfg); errSave != nil {
			return nil, errSave
		}
		return cfg, nil
	}

	return Load()
}

func Load() (*Settings, error) {
	return LoadFrom(Path())
}

func LoadFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fields.FileError{Path: path, Err: err}
	}

	cfg := Default()
	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, &fields.FileError{Path: path, Err: err}
	}

	if cfg.BaudRate <= 0 {
		cfg.BaudRate = serialport.DefaultBaudRate
	}

	if cfg.ReadTimeoutMs <= 0 {
		cfg.ReadTimeoutMs = 100
	}

	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = serialport.DriverBugst
	}

	if cfg.Values == nil {
		cfg.Values = map[string]string{}
	}

	return cfg, nil
}

func Save(cfg *Settings) error {
	return SaveTo(Path(), cfg)
}

func SaveTo(path string, cfg *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &fields.FileError{Path: path, Err: err}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err = os.WriteFile(path, data, 0o600); err != nil {
		return &fields.FileError{Path: path, Err: err}
	}
	return nil
}

func Dir() string {
	if override := strings.TrimSpace(os.Getenv("BOARD_CONFIGURATOR_HOME")); override != "" {
		return override
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "BoardConfigurator")
		}
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}

	return filepath.Join(configDir, "board-configurator")
}

func LogDir() string {
	return filepath.Join(Dir(), "logs")
}

func Path() string {
	return filepath.Join(Dir(), "settings.json")
}
