package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults applied before flags and the config file are consulted.
const (
	DefaultServerURL = "http://127.0.0.1:8000"
	DefaultDBPath    = "eloquent.db"
)

// Config holds application configuration.
type Config struct {
	// ServerURL is the base URL of the remote chat service.
	ServerURL string `toml:"server_url"`

	// EventsURL is an optional websocket endpoint for server-pushed
	// sessions-updated notifications. Empty disables the listener.
	EventsURL string `toml:"events_url"`

	// DBPath locates the device-local state database.
	DBPath string `toml:"db_path"`

	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL: DefaultServerURL,
		DBPath:    DefaultDBPath,
	}
}

// LoadFile overlays values from a TOML file onto cfg.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
