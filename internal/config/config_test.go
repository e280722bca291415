package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/trust")
	t.Setenv("SERVICE_API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Port)
	}
	if cfg.TimestampWindow != 300*time.Second {
		t.Errorf("default window: got %v, want 300s", cfg.TimestampWindow)
	}
	if cfg.PoolMaxConns != 10 {
		t.Errorf("default pool max: got %d, want 10", cfg.PoolMaxConns)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Errorf("default rate window: got %v, want 1m", cfg.RateLimitWindow)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/trust")
	t.Setenv("SERVICE_API_KEY", "secret")
	t.Setenv("PORT", "9999")
	t.Setenv("SIGNATURE_TIMESTAMP_WINDOW", "60")
	t.Setenv("RATE_LIMIT_MAX", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("port override: got %d", cfg.Port)
	}
	if cfg.TimestampWindow != time.Minute {
		t.Errorf("window override: got %v", cfg.TimestampWindow)
	}
	if cfg.RateLimitMax != 50 {
		t.Errorf("rate limit override: got %d", cfg.RateLimitMax)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVICE_API_KEY", "secret")
	if _, err := Load(); err == nil {
		t.Fatal("missing DATABASE_URL should fail")
	}
}

func TestLoad_RequiresServiceKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/trust")
	t.Setenv("SERVICE_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("missing SERVICE_API_KEY should fail")
	}
}
