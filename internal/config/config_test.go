package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("sweep interval default: %s", cfg.SweepInterval)
	}
	if cfg.DefaultMaxAttempts != 3 {
		t.Fatalf("max attempts default: %d", cfg.DefaultMaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("COURIER_HTTP_ADDR", ":9999")
	t.Setenv("COURIER_SWEEP_INTERVAL", "30s")
	t.Setenv("COURIER_DEFAULT_MAX_ATTEMPTS", "5")
	t.Setenv("COURIER_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("http addr: %q", cfg.HTTPAddr)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval: %s", cfg.SweepInterval)
	}
	if cfg.DefaultMaxAttempts != 5 {
		t.Fatalf("max attempts: %d", cfg.DefaultMaxAttempts)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("redis addr: %q", cfg.RedisAddr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.DefaultMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero max attempts")
	}

	cfg = Default()
	cfg.Lease = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero lease")
	}

	cfg = Default()
	cfg.NotifyChannel = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty notify channel")
	}

	cfg = Default()
	cfg.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for bogus fsync mode")
	}

	cfg = Default()
	cfg.RPCTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero rpc timeout")
	}
}
