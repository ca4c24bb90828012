package config

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Secrets holds the config values spec §6 treats as sensitive enough not
// to belong in a checked-in TOML file. Only the upstream password is
// read from the environment; [[access]] rule passwords come from the
// TOML file alone. Narrowed from
// internal/env/config.go's whole-config env loading, since frankenrouter
// otherwise gets all of its configuration from the TOML file, not the
// environment.
type Secrets struct {
	UpstreamPassword string `env:"FRANKENROUTER_UPSTREAM_PASSWORD"`
}

// LoadSecrets loads a local .env.local override (if present, same as the
// teacher's pattern) and then the process environment into a Secrets
// value.
func LoadSecrets(ctx context.Context) (Secrets, error) {
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			return Secrets{}, err
		}
	}

	var s Secrets
	if err := envconfig.Process(ctx, &s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

// ApplySecrets overlays s onto cfg's default upstream password, if the
// environment provided one; a config file value is not overwritten by an
// empty environment variable.
func ApplySecrets(cfg *Config, s Secrets) {
	if s.UpstreamPassword == "" {
		return
	}
	for i := range cfg.Upstreams {
		if cfg.Upstreams[i].Default {
			cfg.Upstreams[i].Password = s.UpstreamPassword
			return
		}
	}
	if len(cfg.Upstreams) > 0 {
		cfg.Upstreams[0].Password = s.UpstreamPassword
	}
}
