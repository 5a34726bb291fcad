package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// BluetoothConfig holds scan and connection policy.
type BluetoothConfig struct {
	// RequiredServices are 16-bit ("180d") or full UUIDs. Empty scans for
	// everything.
	RequiredServices    []string        `yaml:"required_services"`
	AllowDuplicates     bool            `yaml:"allow_duplicates"`
	UndiscoverAfter     time.Duration   `yaml:"undiscover_after"`
	SplitLists          bool            `yaml:"split_lists"`
	AutoConnectPrevious bool            `yaml:"auto_connect_previous"`
	Reconnect           ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds automatic reconnection settings.
type ReconnectConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxBackoffSeconds int  `yaml:"max_backoff_seconds"`
}

// StoreConfig holds where known peripherals are persisted.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds the control API settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// AdapterConfig holds platform adapter settings.
type AdapterConfig struct {
	BlueZAdapter string `yaml:"bluez_adapter"` // Linux only, e.g. "hci0"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blecentral")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	storePath := filepath.Join(home, ".local", "share", "blecentral", "peripherals.yaml")

	return &Config{
		LogLevel: "info",
		Bluetooth: BluetoothConfig{
			UndiscoverAfter:     5 * time.Second,
			SplitLists:          true,
			AutoConnectPrevious: true,
			Reconnect: ReconnectConfig{
				MaxBackoffSeconds: 30,
			},
		},
		Store: StoreConfig{
			Path: storePath,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8787",
		},
		Adapter: AdapterConfig{
			BlueZAdapter: "hci0",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if _, err := c.Bluetooth.Services(); err != nil {
		return err
	}

	if c.Bluetooth.UndiscoverAfter < 0 {
		return fmt.Errorf("bluetooth.undiscover_after must be >= 0")
	}

	if c.Bluetooth.Reconnect.Enabled && c.Bluetooth.Reconnect.MaxBackoffSeconds <= 0 {
		return fmt.Errorf("bluetooth.reconnect.max_backoff_seconds must be > 0 when reconnect is enabled")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	return nil
}

// Services parses RequiredServices.
func (b BluetoothConfig) Services() ([]gatt.UUID, error) {
	uuids, err := gatt.ParseUUIDs(b.RequiredServices)
	if err != nil {
		return nil, fmt.Errorf("bluetooth.required_services: %w", err)
	}
	return uuids, nil
}

// MaxBackoff returns the reconnect backoff cap.
func (r ReconnectConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSeconds) * time.Second
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values are
// treated as info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# blecentral configuration
# See bluetooth.required_services for the scan filter; store.path for where
# previously connected peripherals are remembered.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
