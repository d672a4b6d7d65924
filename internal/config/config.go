package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent462/netmaint/internal/logging"
)

// Config represents the top-level netmaint configuration.
type Config struct {
	Workers   int               `yaml:"workers"`
	LogLevel  string            `yaml:"log_level"`
	LogDir    string            `yaml:"log_dir"`
	ReportDir string            `yaml:"report_dir"`
	SSH       SSH               `yaml:"ssh"`
	Devices   map[string]Device `yaml:"devices,omitempty"`
}

// SSH holds transport settings shared by every device session.
type SSH struct {
	Port           int      `yaml:"port"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
	Insecure       bool     `yaml:"insecure"`
	KnownHosts     string   `yaml:"known_hosts,omitempty"`
}

// Device overrides connection details for one hostname from the
// maintenance file.
type Device struct {
	Address string `yaml:"address,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	Driver  string `yaml:"driver,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Transport defaults. Devices are slow to log in and some commands
// (write memory, show tech) take well over a minute to return.
const (
	DefaultConnectTimeout = 7 * time.Second
	DefaultCommandTimeout = 100 * time.Second
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Workers:   1,
		LogLevel:  "error",
		LogDir:    "./log",
		ReportDir: ".",
		SSH: SSH{
			Port:           22,
			ConnectTimeout: Duration{DefaultConnectTimeout},
			CommandTimeout: Duration{DefaultCommandTimeout},
			Insecure:       true,
		},
		Devices: make(map[string]Device),
	}
}

// DefaultConfigPath returns the default config file path.
// Respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "netmaint", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "netmaint", "config.yaml")
}

// SearchPaths lists the locations LoadDefault tries, in order. The
// working-directory file wins over the user file, which wins over the
// system file.
func SearchPaths() []string {
	paths := []string{"netmaint.yaml"}
	if p := DefaultConfigPath(); p != "" {
		paths = append(paths, p)
	}
	return append(paths, "/etc/netmaint.yaml")
}

// Load reads and parses a config YAML file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the first config file found in SearchPaths.
// If none exists, it returns the default config.
func LoadDefault() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// Save writes the config to the given file path as YAML.
// It creates parent directories if they don't exist.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := logging.ParseSeverity(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh port out of range: %d", c.SSH.Port)
	}
	if c.SSH.ConnectTimeout.Duration < 0 {
		return fmt.Errorf("connect timeout must be non-negative, got %s", c.SSH.ConnectTimeout)
	}
	if c.SSH.CommandTimeout.Duration < 0 {
		return fmt.Errorf("command timeout must be non-negative, got %s", c.SSH.CommandTimeout)
	}
	if !c.SSH.Insecure && c.SSH.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err != nil || home == "" {
			return fmt.Errorf("host key checking enabled but no known_hosts path and no home directory")
		}
	}

	for name, dev := range c.Devices {
		if dev.Port < 0 || dev.Port > 65535 {
			return fmt.Errorf("device %q port out of range: %d", name, dev.Port)
		}
	}

	return nil
}

// Severity returns the parsed log level. Validate guarantees it parses.
func (c *Config) Severity() logging.Severity {
	s, err := logging.ParseSeverity(c.LogLevel)
	if err != nil {
		return logging.Error
	}
	return s
}
