// Package config reads process configuration from the environment once at
// startup.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"vidyahub.org/internal/storage"
)

// ErrMissingSecret means the token-signing secret is absent. Startup treats
// it as fatal: without it no assertion can be verified.
var ErrMissingSecret = errors.New("config: VIDYAHUB_AUTH_SECRET is not set")

// Config is everything the api binary needs.
type Config struct {
	Addr       string
	PGDSN      string
	AuthSecret []byte
	TokenTTL   time.Duration

	S3 storage.S3Config
}

// Load reads the environment. Only the signing secret is mandatory; the DSN
// and S3 settings may be empty in development, which disables the matching
// adapters.
func Load() (Config, error) {
	secret := strings.TrimSpace(os.Getenv("VIDYAHUB_AUTH_SECRET"))
	if secret == "" {
		return Config{}, ErrMissingSecret
	}

	cfg := Config{
		Addr:       envDefault("VIDYAHUB_ADDR", ":8080"),
		PGDSN:      os.Getenv("VIDYAHUB_PG_DSN"),
		AuthSecret: []byte(secret),
		TokenTTL:   30 * 24 * time.Hour,
		S3: storage.S3Config{
			Region:       envDefault("VIDYAHUB_S3_REGION", "ap-south-1"),
			Bucket:       os.Getenv("VIDYAHUB_S3_BUCKET"),
			AccessKey:    os.Getenv("VIDYAHUB_S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("VIDYAHUB_S3_SECRET_KEY"),
			BaseEndpoint: os.Getenv("VIDYAHUB_S3_ENDPOINT"),
		},
	}
	if ttl := os.Getenv("VIDYAHUB_TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			cfg.TokenTTL = d
		}
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
