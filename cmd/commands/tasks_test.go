package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgecrew/foreman/internal/capability"
)

// writeTestConfig lays out a config file with every path under dir. The
// registry artifact is not created; tests that need one write it themselves.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.jsonc")
	cfg := fmt.Sprintf(`{
	"ledger": {"dir": %q, "archive_db": %q},
	"registry": {"artifact": %q, "declarations_dir": %q},
	"events": {"log_dir": %q}
}`,
		filepath.Join(dir, "tasks"),
		filepath.Join(dir, "archive.db"),
		filepath.Join(dir, "registry.json"),
		filepath.Join(dir, "capabilities"),
		filepath.Join(dir, "events"),
	)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func writeTestArtifact(t *testing.T, dir string) {
	t.Helper()
	artifact := `{
	"version": 1,
	"capabilities": {
		"worker-docs": {
			"id": "worker-docs",
			"classification": "worker",
			"capability_tags": ["docs"],
			"read_scope": ["docs/**"],
			"write_scope": ["docs/**"]
		}
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte(artifact), 0o644); err != nil {
		t.Fatal(err)
	}
}

// A missing registry artifact aborts the command; no command runs against a
// silently empty registry.
func TestCommandsFailWithoutRegistryArtifact(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	err := NewRootCommand().Run(context.Background(), []string{"foreman", "--config", cfgPath, "tasks", "list"})
	if !errors.Is(err, capability.ErrRegistryLoad) {
		t.Fatalf("expected ErrRegistryLoad, got %v", err)
	}
}

func TestCommandsFailOnMalformedRegistryArtifact(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewRootCommand().Run(context.Background(), []string{"foreman", "--config", cfgPath, "tasks", "list"})
	if !errors.Is(err, capability.ErrRegistryLoad) {
		t.Fatalf("expected ErrRegistryLoad, got %v", err)
	}
}

// Every command run leaves its events in the JSONL sink.
func TestCommandsWriteEventLog(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	writeTestArtifact(t, dir)

	err := NewRootCommand().Run(context.Background(), []string{
		"foreman", "--config", cfgPath, "tasks", "create", "--tag", "docs", "write the guide",
	})
	if err != nil {
		t.Fatalf("tasks create: %v", err)
	}

	// Bus delivery is asynchronous; wait for the sink to catch up.
	global := filepath.Join(dir, "events", "_global.jsonl")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(global); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no events written to the log dir")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
