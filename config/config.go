/*
Package config loads process configuration.

Values come from the environment (with an optional .env file) and may be
overridden by command-line flags in main. Only the mirror endpoint is
required when mirroring is enabled; everything else has a sane default.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   int
	DBPath string

	// AdminToken gates the administrative teardown endpoint. Empty
	// disables the endpoint entirely.
	AdminToken string

	// Mirror settings.
	MirrorEnabled  bool
	MirrorEndpoint string
	MirrorContract string
	MirrorTimeout  time.Duration
	StrictMirror   bool

	Env string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		Port:           8080,
		DBPath:         "bank.db",
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		MirrorEndpoint: os.Getenv("MIRROR_RPC_URL"),
		MirrorContract: os.Getenv("MIRROR_CONTRACT"),
		MirrorTimeout:  30 * time.Second,
		Env:            envOr("ENVIRONMENT", "development"),
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MIRROR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MIRROR_TIMEOUT %q: %w", v, err)
		}
		cfg.MirrorTimeout = d
	}

	cfg.MirrorEnabled = cfg.MirrorEndpoint != ""
	cfg.StrictMirror = boolEnv("MIRROR_STRICT")
	if cfg.StrictMirror && !cfg.MirrorEnabled {
		return nil, fmt.Errorf("MIRROR_STRICT requires MIRROR_RPC_URL")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
