// Package config loads process settings from the environment.
//
// Every setting has a CONDITIONSDB_ variable; command-line flags applied by
// the CLI take precedence over what is parsed here.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"conditionsdb/internal/logging"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
	StoreRaft   = "raft"
)

// StoreTypes lists the accepted values of Settings.Store.
var StoreTypes = []string{StoreMemory, StoreSQLite, StoreBadger, StoreRaft}

// Settings holds the process configuration.
type Settings struct {
	// Home is the state directory. Empty means the platform default.
	Home string `env:"HOME"`

	Store   string        `env:"STORE" envDefault:"sqlite"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	// LogComponents overrides levels per component, e.g. "catalog=debug,raft=info".
	LogComponents string `env:"LOG_COMPONENTS"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: "CONDITIONSDB_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks value ranges and enumerations.
func (s Settings) Validate() error {
	if !slices.Contains(StoreTypes, s.Store) {
		return fmt.Errorf("invalid store type %q: expected one of %v", s.Store, StoreTypes)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", s.LogFormat)
	}
	if _, err := logging.ParseComponentLevels(s.LogComponents); err != nil {
		return err
	}
	return nil
}
