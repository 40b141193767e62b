package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, which must be a pointer to a
// struct using `env` and `envDefault` tags. Slice fields are comma separated
// and durations use time.ParseDuration syntax.
//
// Example:
//
//	type Config struct {
//	    Port           int           `env:"HTTP_PORT" envDefault:"8080"`
//	    AccessLifetime time.Duration `env:"ACCESS_TOKEN_LIFETIME" envDefault:"30m"`
//	}
func Load(cfg any) error {
	return LoadWithOptions(cfg, env.Options{})
}

// LoadWithOptions is Load with explicit parser options, e.g. a Prefix or an
// Environment map used in place of the process environment.
func LoadWithOptions(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
