package config

import (
	"os"
	"path/filepath"
)

// ForemanPath returns the root directory for Foreman data.
// It uses $FOREMAN_PATH if set, otherwise defaults to ~/.foreman.
func ForemanPath() string {
	if v := os.Getenv("FOREMAN_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".foreman")
	}
	return filepath.Join(home, ".foreman")
}

// ConfigPath returns the path to the Foreman config file.
func ConfigPath() string {
	return filepath.Join(ForemanPath(), "config.jsonc")
}

// DotenvPath returns the path to the Foreman .env file.
func DotenvPath() string {
	return filepath.Join(ForemanPath(), ".env")
}

// TasksPath returns the default task ledger directory.
func TasksPath() string {
	return filepath.Join(ForemanPath(), "tasks")
}

// RegistryArtifactPath returns the default registry artifact location.
func RegistryArtifactPath() string {
	return filepath.Join(ForemanPath(), "registry.json")
}

// EventsPath returns the default event log directory.
func EventsPath() string {
	return filepath.Join(ForemanPath(), "events")
}

// CapabilitiesPath returns the default capability declarations directory.
func CapabilitiesPath() string {
	return filepath.Join(ForemanPath(), "capabilities")
}
