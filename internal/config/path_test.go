package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultDataDirXDGOverride(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	if got := DefaultDataDir(); got != filepath.Join("/tmp/xdg", "courier") {
		t.Fatalf("xdg override: %q", got)
	}
}

func TestDefaultDataDirNeverEmpty(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	if DefaultDataDir() == "" {
		t.Fatalf("data dir must never be empty")
	}
}
