package goPortal

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by LoadConfigFromEnv.
const EnvPrefix = "PORTAL_"

// LoadConfigFromEnv starts from [DefaultConfig] and overrides fields from
// PORTAL_* environment variables, e.g. PORTAL_PAYMENT_ALLOWED_ORIGINS or
// PORTAL_PHONE_VERIFICATION_MARKER_TTL. The result is validated.
func LoadConfigFromEnv() (Config, error) {
	return loadConfigFromEnv(nil)
}

func loadConfigFromEnv(environment map[string]string) (Config, error) {
	cfg := defaultConfig()
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
