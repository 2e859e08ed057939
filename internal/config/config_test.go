package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected default port: %s", cfg.Port)
	}
	if cfg.ServicePrefix != "promoflow" {
		t.Fatalf("unexpected default prefix: %s", cfg.ServicePrefix)
	}
	if cfg.RateLimitRequests != 10 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %d/%s", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.RetentionDays != 30 {
		t.Fatalf("unexpected retention default: %d", cfg.RetentionDays)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("STRICT_TRANSITIONS", "true")
	t.Setenv("RETENTION_DAYS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port override lost: %s", cfg.Port)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("window override lost: %s", cfg.RateLimitWindow)
	}
	if !cfg.StrictTransitions {
		t.Fatal("strict transitions override lost")
	}
	if cfg.RetentionDays != 7 {
		t.Fatalf("retention override lost: %d", cfg.RetentionDays)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for zero rate limit")
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SOME_BOOL", "definitely")
	if got := getEnvBool("SOME_BOOL", true); !got {
		t.Fatal("unparseable bool should fall back")
	}
	t.Setenv("SOME_INT", "ten")
	if got := getEnvInt("SOME_INT", 5); got != 5 {
		t.Fatalf("unparseable int should fall back, got %d", got)
	}
	t.Setenv("SOME_DUR", "soon")
	if got := getEnvDuration("SOME_DUR", time.Minute); got != time.Minute {
		t.Fatalf("unparseable duration should fall back, got %s", got)
	}
}
