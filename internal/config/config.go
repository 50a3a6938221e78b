// Package config loads the causalverse operator configuration.
//
// Configuration is a YAML file validated with struct tags. Every section has
// defaults, so an empty file (or no file) is a valid configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/causalverse/internal/emergence"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Journal   JournalConfig    `yaml:"journal"`
	Universe  UniverseConfig   `yaml:"universe"`
	Emergence emergence.Config `yaml:"emergence"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// JournalConfig selects where events are persisted.
type JournalConfig struct {
	// Backend is "sqlite", "badger" or "memory" (in-memory Badger).
	Backend string `yaml:"backend" validate:"oneof=sqlite badger memory"`

	// Path is the SQLite file or Badger directory.
	Path string `yaml:"path" validate:"required_unless=Backend memory"`
}

// UniverseConfig holds defaults for universes created by the CLI.
type UniverseConfig struct {
	AutoRepair    bool `yaml:"auto_repair"`
	MaxIterations int  `yaml:"max_iterations" validate:"gte=1"`
}

// MetricsConfig controls the Prometheus endpoint of the run command.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
	Path string `yaml:"path" validate:"startswith=/"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Journal:   JournalConfig{Backend: "sqlite", Path: "causalverse.db"},
		Universe:  UniverseConfig{AutoRepair: true, MaxIterations: 100},
		Emergence: emergence.DefaultConfig(),
		Metrics:   MetricsConfig{Path: "/metrics"},
	}
}

var validate = validator.New()

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Emergence.Validate(); err != nil {
		return fmt.Errorf("invalid config: emergence: %w", err)
	}
	return nil
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses YAML over the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
