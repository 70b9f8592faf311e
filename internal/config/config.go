package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Command  CommandConfig `yaml:"command"`
	Database string        `yaml:"database"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig holds BLE link settings for the controller.
type DeviceConfig struct {
	Address       string        `yaml:"address"`
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	PairingWindow time.Duration `yaml:"pairing_window"`
}

// CommandConfig holds command dispatch settings.
type CommandConfig struct {
	AckTimeout time.Duration `yaml:"ack_timeout"`
	Retries    int           `yaml:"retries"`
	Queue      string        `yaml:"queue"` // "latest" or "fail_fast"
}

// MQTTConfig holds the optional broker connection. An empty broker
// disables publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "panasonic-hc")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "panasonic-hc", "panasonic-hc.db")

	return &Config{
		Device: DeviceConfig{
			ReconnectBase: 2 * time.Second,
			ReconnectMax:  60 * time.Second,
			PairingWindow: 30 * time.Second,
		},
		Command: CommandConfig{
			AckTimeout: 5 * time.Second,
			Retries:    2,
			Queue:      "latest",
		},
		Database: dbPath,
		MQTT: MQTTConfig{
			TopicPrefix: "panasonic-hc",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in database is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Database = expandTilde(cfg.Database)

	return cfg, nil
}

// Validate checks the config for invalid values. The device address may
// be empty for commands that only scan.
func (c *Config) Validate() error {
	if c.Device.ReconnectBase <= 0 {
		return fmt.Errorf("device.reconnect_base must be > 0")
	}

	if c.Device.ReconnectMax < c.Device.ReconnectBase {
		return fmt.Errorf("device.reconnect_max must be >= device.reconnect_base")
	}

	if c.Device.PairingWindow <= 0 {
		return fmt.Errorf("device.pairing_window must be > 0")
	}

	if c.Command.AckTimeout <= 0 {
		return fmt.Errorf("command.ack_timeout must be > 0")
	}

	if c.Command.Retries < 0 {
		return fmt.Errorf("command.retries must be >= 0")
	}

	switch c.Command.Queue {
	case "latest", "fail_fast":
	default:
		return fmt.Errorf("command.queue must be \"latest\" or \"fail_fast\", got %q", c.Command.Queue)
	}

	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix must not be empty when a broker is set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config to the default path if no
// config file exists yet. Returns the written path, or "" if a file was
// already there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# panasonic-hc configuration\n# Set device.address to your controller's BLE address (see `panasonic-hc scan`).\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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
