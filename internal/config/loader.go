package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Ledger.Dir == "" {
		cfg.Ledger.Dir = TasksPath()
	}
	if cfg.Ledger.ArchiveDB == "" {
		cfg.Ledger.ArchiveDB = ForemanPath() + "/archive.db"
	}
	if cfg.Registry.Artifact == "" {
		cfg.Registry.Artifact = RegistryArtifactPath()
	}
	if cfg.Registry.DeclarationsDir == "" {
		cfg.Registry.DeclarationsDir = CapabilitiesPath()
	}
	if cfg.Delegation.Timeout == 0 {
		cfg.Delegation.Timeout = Duration(10 * time.Minute)
	}
	if cfg.Delegation.MaxRetries == 0 {
		cfg.Delegation.MaxRetries = 1
	}
	if cfg.Delegation.MaxConcurrent == 0 {
		cfg.Delegation.MaxConcurrent = 2
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogDir == "" {
		cfg.Events.LogDir = EventsPath()
	}
}
