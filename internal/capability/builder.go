package capability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Build scans a declarations directory for *.md capability files, validates
// the set (unique ids, resolvable escalation chains), and serializes the
// registry artifact. Returns the number of capabilities written.
//
// This is the explicit rebuild step: the core never re-scans declarations at
// runtime, it only consumes the artifact.
func Build(declsDir, artifactPath string) (int, error) {
	entries, err := os.ReadDir(declsDir)
	if err != nil {
		return 0, fmt.Errorf("read declarations dir %s: %w", declsDir, err)
	}

	var caps []*Capability
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(declsDir, entry.Name())
		c, err := LoadDeclaration(path)
		if err != nil {
			return 0, err
		}
		caps = append(caps, c)
		slog.Debug("loaded capability declaration", "id", c.ID, "path", path)
	}

	if len(caps) == 0 {
		return 0, fmt.Errorf("no capability declarations found in %s", declsDir)
	}

	// Cross-declaration validation happens in the registry constructor.
	if _, err := NewRegistry(caps); err != nil {
		return 0, err
	}

	if err := writeArtifact(artifactPath, caps); err != nil {
		return 0, err
	}

	slog.Info("registry rebuilt", "capabilities", len(caps), "artifact", artifactPath)
	return len(caps), nil
}
