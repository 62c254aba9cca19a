package setup

import (
	"os"
	"path/filepath"
)

const appDir = "bwmt"

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultPath returns the default setup file path.
func DefaultPath() string {
	return filepath.Join(XDGConfigHome(), appDir, "setup.toml")
}

// DefaultDBPath returns the default run history database path.
func DefaultDBPath() string {
	return filepath.Join(XDGDataHome(), appDir, "runs.db")
}
