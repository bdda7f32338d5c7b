package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// artifactVersion guards against reading artifacts from incompatible builds.
const artifactVersion = 1

// Artifact is the serialized registry table produced by the build step and
// loaded read-only by the core at startup.
type Artifact struct {
	Version      int                    `json:"version"`
	BuiltAt      time.Time              `json:"built_at"`
	Capabilities map[string]*Capability `json:"capabilities"`
}

// LoadArtifact reads a registry artifact and builds the in-memory registry.
// The artifact may carry comments and trailing commas (hand edits survive).
// Any failure here wraps ErrRegistryLoad: a missing or unparseable artifact is
// startup-fatal, never silently defaulted.
func LoadArtifact(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrRegistryLoad, path, err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: standardize %s: %v", ErrRegistryLoad, path, err)
	}

	var art Artifact
	if err := json.Unmarshal(std, &art); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrRegistryLoad, path, err)
	}

	if art.Version != artifactVersion {
		return nil, fmt.Errorf("%w: %s: unsupported artifact version %d", ErrRegistryLoad, path, art.Version)
	}

	caps := make([]*Capability, 0, len(art.Capabilities))
	for id, c := range art.Capabilities {
		if c.ID == "" {
			c.ID = id
		}
		if c.ID != id {
			return nil, fmt.Errorf("%w: %s: entry key %q does not match id %q", ErrRegistryLoad, path, id, c.ID)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRegistryLoad, path, err)
		}
		caps = append(caps, c)
	}

	reg, err := NewRegistry(caps)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRegistryLoad, path, err)
	}
	return reg, nil
}

// writeArtifact atomically serializes the registry table using tmp + rename.
func writeArtifact(path string, caps []*Capability) error {
	art := Artifact{
		Version:      artifactVersion,
		BuiltAt:      time.Now().UTC(),
		Capabilities: make(map[string]*Capability, len(caps)),
	}
	for _, c := range caps {
		art.Capabilities[c.ID] = c
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
