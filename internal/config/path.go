package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir picks where Courier keeps its store when COURIER_DATA_DIR
// and --data-dir are both unset. XDG_DATA_HOME takes precedence everywhere;
// otherwise the platform's conventional application-data location is used,
// with ~/.courier as the catch-all.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "courier")
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Courier")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "Courier")
	}

	// System-wide location when it exists (typical server installs).
	if info, err := os.Stat("/var/lib"); err == nil && info.IsDir() {
		return "/var/lib/courier"
	}
	return filepath.Join(home, ".courier")
}
