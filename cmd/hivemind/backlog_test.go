package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atriumhq/hivemind/pkg/models"
)

func writeBacklog(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlog.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write backlog: %v", err)
	}
	return path
}

func TestLoadBacklog(t *testing.T) {
	path := writeBacklog(t, `
tasks:
  - id: schema
    name: Design the schema
    estimated_hours: 2
    labels: [database]
  - id: api
    name: Build the API
    description: REST endpoints over the schema
    estimated_hours: 3
    priority: 2
    depends_on: [schema]
`)

	units, err := loadBacklog(path)
	if err != nil {
		t.Fatalf("loadBacklog: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}

	api := units[1]
	if api.ID != "api" || api.Kind != models.KindTask {
		t.Errorf("unit = %s/%s, want api/task", api.ID, api.Kind)
	}
	if api.EstimatedHours != 3 || api.Priority != 2 {
		t.Errorf("hours=%.1f priority=%d", api.EstimatedHours, api.Priority)
	}
	if len(api.DependsOn) != 1 || api.DependsOn[0] != "schema" {
		t.Errorf("depends_on = %v", api.DependsOn)
	}
	if !units[0].HasLabel("database") {
		t.Error("schema should carry the database label")
	}
}

func TestLoadBacklogGeneratesMissingIDs(t *testing.T) {
	path := writeBacklog(t, `
tasks:
  - name: anonymous task
`)

	units, err := loadBacklog(path)
	if err != nil {
		t.Fatalf("loadBacklog: %v", err)
	}
	if units[0].ID == "" {
		t.Error("missing id should be generated")
	}
	if units[0].EstimatedHours != 1 {
		t.Errorf("default estimate = %.1f, want 1", units[0].EstimatedHours)
	}
}

func TestLoadBacklogRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":        `tasks: []`,
		"nameless":     "tasks:\n  - id: x\n",
		"duplicate id": "tasks:\n  - id: a\n    name: one\n  - id: a\n    name: two\n",
		"not yaml":     `{{{`,
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadBacklog(writeBacklog(t, yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadBacklogMissingFile(t *testing.T) {
	if _, err := loadBacklog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
