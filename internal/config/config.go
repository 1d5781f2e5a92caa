// Package config loads the server configuration from YAML. Missing values
// fall back to defaults; command-line flags override the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Listen   string   `yaml:"listen"`
	Database Database `yaml:"database"`
	Relay    Relay    `yaml:"relay"`
	Log      Log      `yaml:"log"`
}

type Database struct {
	Path       string `yaml:"path"`
	BcryptCost int    `yaml:"bcryptCost"`
	LogSQL     bool   `yaml:"logSQL"`
}

type Relay struct {
	PingInterval  time.Duration `yaml:"pingInterval"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	SendBuffer    int           `yaml:"sendBuffer"`
	MaxFrameBytes int           `yaml:"maxFrameBytes"`
	// AllowedOrigins lists websocket origins as scheme://host. Empty
	// accepts any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Log struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"noColor"`
}

// Default returns the configuration used when no file is given.
func Default() Config { // A
	return Config{
		Listen: ":4242",
		Database: Database{
			Path:       "./data/cipherroom.db",
			BcryptCost: 10,
		},
		Relay: Relay{
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
			SendBuffer:    64,
			MaxFrameBytes: 1 << 20,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) { // A
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values a server cannot start without.
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("config: listen address is required")
	case c.Database.Path == "":
		return errors.New("config: database.path is required")
	case c.Database.BcryptCost < 4 || c.Database.BcryptCost > 31:
		return fmt.Errorf("config: database.bcryptCost %d out of range 4..31", c.Database.BcryptCost)
	case c.Relay.PingInterval <= 0:
		return errors.New("config: relay.pingInterval must be positive")
	case c.Relay.SendBuffer <= 0:
		return errors.New("config: relay.sendBuffer must be positive")
	}
	for _, o := range c.Relay.AllowedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Scheme+"://"+u.Host != o {
			return fmt.Errorf("config: relay.allowedOrigins entry %q is not scheme://host", o)
		}
	}
	return nil
}
