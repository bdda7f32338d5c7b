package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPlanFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.jsonc")
	data := `{
	// ship the new parser
	"goal": "release the parser",
	"tags": ["coordination"],
	"nodes": [
		{"id": "build", "objective": "build the parser", "tags": ["build"]},
		{"id": "deploy", "objective": "deploy it", "tags": ["deploy"], "depends_on": ["build"], "risky": true, "max_retries": 2}
	]
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	pf, err := loadPlanFile(path)
	if err != nil {
		t.Fatalf("loadPlanFile: %v", err)
	}
	if pf.Goal != "release the parser" {
		t.Errorf("goal = %q", pf.Goal)
	}
	if len(pf.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(pf.Nodes))
	}
	nodes := pf.planNodes()
	if nodes[1].ID != "deploy" || !nodes[1].Risky || nodes[1].MaxRetries != 2 {
		t.Errorf("deploy node = %+v", nodes[1])
	}
	if len(nodes[1].DependsOn) != 1 || nodes[1].DependsOn[0] != "build" {
		t.Errorf("deploy depends_on = %v", nodes[1].DependsOn)
	}
}

func TestLoadPlanFileMissingGoal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.jsonc")
	if err := os.WriteFile(path, []byte(`{"nodes": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadPlanFile(path); err == nil {
		t.Fatal("expected error for plan without a goal")
	}
}
