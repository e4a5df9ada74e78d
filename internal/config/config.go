// Package config loads the engine tuning file. Infrastructure settings
// (port, database, redis) stay in environment variables; this file covers
// the knobs operators actually tune: match weights, thresholds, and the
// collaborator retry/timeout budget.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/confira/settlement-engine/internal/match"
)

// Config is the engine configuration. Missing fields fall back to defaults,
// so a partial file is fine and no file at all is too.
type Config struct {
	Match match.Config `yaml:"match"`

	Resolution struct {
		// CollaboratorTimeout bounds one population+storage attempt so a
		// slow external step cannot wedge the state machine.
		CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`

		// TransientRetries is how many times population/storage failures
		// are re-attempted. Resolver failures never retry.
		TransientRetries int `yaml:"transient_retries"`
	} `yaml:"resolution"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	c.Match = match.DefaultConfig()
	c.Resolution.CollaboratorTimeout = 30 * time.Second
	c.Resolution.TransientRetries = 2
	return c
}

// Load reads a yaml config file, layering it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Resolution.CollaboratorTimeout <= 0 {
		cfg.Resolution.CollaboratorTimeout = 30 * time.Second
	}
	if cfg.Resolution.TransientRetries < 0 {
		cfg.Resolution.TransientRetries = 0
	}
	return cfg, nil
}
