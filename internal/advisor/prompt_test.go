package advisor

import (
	"strings"
	"testing"

	"github.com/atriumhq/hivemind/pkg/models"
)

func TestParseProposalValidJSON(t *testing.T) {
	response := `{
		"subtasks": [
			{"name": "Data model", "description": "schema", "estimated_hours": 2, "provides": "schema", "file_artifacts": ["store/schema.sql"]},
			{"name": "Service layer", "estimated_hours": 3, "requires": "schema", "depends_on": ["Data model"]}
		],
		"shared_conventions": {"base_path": "shop", "naming_rules": "snake_case"}
	}`

	p, err := parseProposal(response)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Subtasks) != 2 {
		t.Fatalf("got %d subtasks, want 2", len(p.Subtasks))
	}
	if p.Subtasks[1].DependsOn[0] != "Data model" {
		t.Errorf("deps = %v", p.Subtasks[1].DependsOn)
	}
	if p.Conventions.BasePath != "shop" {
		t.Errorf("base path = %q, want shop", p.Conventions.BasePath)
	}
}

func TestParseProposalWrappedInProse(t *testing.T) {
	response := "Here is the breakdown:\n```json\n" +
		`{"subtasks": [{"name": "Only", "estimated_hours": 1}]}` +
		"\n```\nLet me know if you want changes."

	p, err := parseProposal(response)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Subtasks) != 1 || p.Subtasks[0].Name != "Only" {
		t.Errorf("subtasks = %+v", p.Subtasks)
	}
}

func TestParseProposalRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"no json":    "I cannot split this task.",
		"empty list": `{"subtasks": []}`,
		"nameless":   `{"subtasks": [{"name": "  "}]}`,
		"malformed":  `{"subtasks": [}`,
	}
	for label, response := range cases {
		if _, err := parseProposal(response); err == nil {
			t.Errorf("%s: expected parse error", label)
		}
	}
}

func TestBuildPlannerPrompt(t *testing.T) {
	task := &models.Unit{
		Name:           "storefront",
		Description:    "build the shop",
		EstimatedHours: 8,
		Labels:         []string{"backend"},
	}
	prompt := buildPlannerPrompt(task)
	for _, want := range []string{"storefront", "build the shop", "8.0", "backend"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
