package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("VIDYAHUB_AUTH_SECRET", "")
	if _, err := Load(); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VIDYAHUB_AUTH_SECRET", "s3cret")
	t.Setenv("VIDYAHUB_ADDR", "")
	t.Setenv("VIDYAHUB_TOKEN_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if string(cfg.AuthSecret) != "s3cret" {
		t.Fatalf("unexpected secret")
	}
	if cfg.TokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.TokenTTL)
	}
}

func TestLoadTokenTTLOverride(t *testing.T) {
	t.Setenv("VIDYAHUB_AUTH_SECRET", "s3cret")
	t.Setenv("VIDYAHUB_TOKEN_TTL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl: %v", cfg.TokenTTL)
	}
}
