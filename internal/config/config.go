// Package config loads the daemon configuration from a YAML file,
// falling back to production defaults when the file is absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable settings for the daemon.
type Config struct {
	DataDir string `yaml:"data_dir"`
	LogPath string `yaml:"log_path"`

	AppTickSeconds      int `yaml:"app_tick_seconds"`
	WebsiteTickSeconds  int `yaml:"website_tick_seconds"`
	WebsiteGraceSeconds int `yaml:"website_grace_seconds"`
	CooldownSeconds     int `yaml:"cooldown_seconds"`

	EventLimit        int `yaml:"event_limit"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// Default returns the production configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/var/tmp"
	}
	return Config{
		DataDir:             filepath.Join(home, ".accountd"),
		LogPath:             "/var/tmp/accountd.log",
		AppTickSeconds:      2,
		WebsiteTickSeconds:  30,
		WebsiteGraceSeconds: 30,
		CooldownSeconds:     30,
		EventLimit:          100,
		SessionTTLMinutes:   10,
	}
}

// Load reads the config file at path, merging it over defaults. A
// missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, check := range []struct {
		name  string
		value int
	}{
		{"app_tick_seconds", c.AppTickSeconds},
		{"website_tick_seconds", c.WebsiteTickSeconds},
		{"cooldown_seconds", c.CooldownSeconds},
		{"event_limit", c.EventLimit},
		{"session_ttl_minutes", c.SessionTTLMinutes},
	} {
		if check.value <= 0 {
			return fmt.Errorf("config %s must be positive, got %d", check.name, check.value)
		}
	}
	if c.WebsiteGraceSeconds < 0 {
		return fmt.Errorf("config website_grace_seconds must not be negative, got %d", c.WebsiteGraceSeconds)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config data_dir must not be empty")
	}
	return nil
}

// AppTick returns the app enforcement interval.
func (c Config) AppTick() time.Duration {
	return time.Duration(c.AppTickSeconds) * time.Second
}

// WebsiteTick returns the website enforcement interval.
func (c Config) WebsiteTick() time.Duration {
	return time.Duration(c.WebsiteTickSeconds) * time.Second
}

// WebsiteGrace returns the delay before the first browser kill.
func (c Config) WebsiteGrace() time.Duration {
	return time.Duration(c.WebsiteGraceSeconds) * time.Second
}

// Cooldown returns the per-browser kill throttle window.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// SessionTTL returns the authorization session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
