package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models deskline.yml.
type Config struct {
	Retention struct {
		// WindowDays is the delay between a task being billed and
		// becoming eligible for scheduled deletion.
		WindowDays int `yaml:"window_days"`
		// GuestAccessDays is the default guest client access window.
		GuestAccessDays int `yaml:"guest_access_days"`
	} `yaml:"retention"`
	Scanner struct {
		IntervalSeconds    int `yaml:"interval_seconds"`
		TickTimeoutSeconds int `yaml:"tick_timeout_seconds"`
	} `yaml:"scanner"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound notification sink fed from the activity
// trail.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Actions        []string `yaml:"actions"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	defaultRetentionDays   = 90
	defaultGuestAccessDays = 30
	defaultScannerInterval = 15 * time.Minute
	defaultTickTimeout     = time.Minute
)

// RetentionWindow returns the billed-task retention as a duration.
func (c *Config) RetentionWindow() time.Duration {
	days := c.Retention.WindowDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// GuestAccess returns the default guest window as a duration.
func (c *Config) GuestAccess() time.Duration {
	days := c.Retention.GuestAccessDays
	if days <= 0 {
		days = defaultGuestAccessDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ScanInterval returns how often the expiry scanner ticks.
func (c *Config) ScanInterval() time.Duration {
	if c.Scanner.IntervalSeconds > 0 {
		return time.Duration(c.Scanner.IntervalSeconds) * time.Second
	}
	return defaultScannerInterval
}

// TickTimeout returns the budget for one scanner tick; rows left over are
// deferred to the next tick.
func (c *Config) TickTimeout() time.Duration {
	if c.Scanner.TickTimeoutSeconds > 0 {
		return time.Duration(c.Scanner.TickTimeoutSeconds) * time.Second
	}
	return defaultTickTimeout
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Retention.WindowDays < 0 {
		return fmt.Errorf("config.retention.window_days must not be negative")
	}
	if c.Retention.GuestAccessDays < 0 {
		return fmt.Errorf("config.retention.guest_access_days must not be negative")
	}
	if c.Scanner.IntervalSeconds < 0 {
		return fmt.Errorf("config.scanner.interval_seconds must not be negative")
	}
	if c.Scanner.TickTimeoutSeconds < 0 {
		return fmt.Errorf("config.scanner.tick_timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "deskline.yml")
}

// Load reads and validates config from a workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Retention.WindowDays = defaultRetentionDays
	cfg.Retention.GuestAccessDays = defaultGuestAccessDays
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
