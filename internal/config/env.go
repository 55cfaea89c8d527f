package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "SCHEDBOT_"

// LoadDotEnv loads variables from the given .env files (default ".env").
// Missing files are ignored and variables already set are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from SCHEDBOT_* variables. Unset variables
// leave the file value in place.
func ApplyEnv(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// applyEnvWith is ApplyEnv with an explicit environment, for tests.
func applyEnvWith(cfg *Config, environ map[string]string) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environ})
}
