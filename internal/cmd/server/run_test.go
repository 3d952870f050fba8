package serverrun

import (
	"testing"

	cfgpkg "github.com/averlane/courier/internal/config"
)

func TestResolveDataDir(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = "/data/from-env"

	if got := resolveDataDir("/data/from-flag", cfg); got != "/data/from-flag" {
		t.Fatalf("flag must win: %q", got)
	}
	if got := resolveDataDir("", cfg); got != "/data/from-env" {
		t.Fatalf("env-configured dir must be used when the flag is unset: %q", got)
	}

	cfg.DataDir = ""
	if got := resolveDataDir("", cfg); got == "" {
		t.Fatalf("platform default must never be empty")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("verbose", "text"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := NewLogger("debug", "json")
	if err != nil || logger == nil {
		t.Fatalf("build logger: %v", err)
	}
}
