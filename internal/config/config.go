package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Notifications  Notifications `toml:"notifications"`
	Privacy        Privacy       `toml:"privacy"`
	Dispatch       Dispatch      `toml:"dispatch"`
}

// Notifications controls when incoming messages raise a user notification.
type Notifications struct {
	// Enabled is the global notify-on-message switch.
	Enabled bool `toml:"enabled"`
	// WhileVisible lists peers whose messages notify even while their
	// conversation is the visible one.
	WhileVisible []string `toml:"while_visible"`
}

// Privacy holds peers whose messages never notify.
type Privacy struct {
	Blocked []string `toml:"blocked"`
}

// Dispatch tunes the outgoing dispatch pass.
type Dispatch struct {
	// DelayMarkerSeconds is how old a queued message may get before its
	// original creation time is surfaced to the remote party on send.
	DelayMarkerSeconds int `toml:"delay_marker_seconds"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Notifications: Notifications{Enabled: true},
		Dispatch:      Dispatch{DelayMarkerSeconds: 60},
	}
}

// DelayThreshold returns the dispatch delay-marker threshold as a duration.
func (c *Config) DelayThreshold() time.Duration {
	if c.Dispatch.DelayMarkerSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Dispatch.DelayMarkerSeconds) * time.Second
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
