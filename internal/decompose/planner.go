// Package decompose splits oversized tasks into coordinated subtasks.
package decompose

import (
	"context"

	"github.com/atriumhq/hivemind/pkg/models"
)

// DraftSubtask is a planner-proposed subtask before structural validation.
// Dependencies reference sibling names; the decomposer resolves them to IDs
// and owns all validation regardless of which planner produced the draft.
type DraftSubtask struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	EstimatedHours float64  `json:"estimated_hours"`
	Provides       string   `json:"provides"`
	Requires       string   `json:"requires"`
	FileArtifacts  []string `json:"file_artifacts"`
	DependsOn      []string `json:"depends_on"`
}

// Proposal is a candidate breakdown for one task.
type Proposal struct {
	Subtasks    []DraftSubtask           `json:"subtasks"`
	Conventions models.SharedConventions `json:"shared_conventions"`
}

// Planner produces candidate subtask breakdowns. Implementations are
// advisory: the AI-backed planner and the rule-based fallback are
// interchangeable, and the decomposer validates their output identically.
type Planner interface {
	// ProposeSubtasks returns a candidate breakdown for the task. The
	// context bounds the call; implementations must return promptly on
	// cancellation.
	ProposeSubtasks(ctx context.Context, task *models.Unit) (*Proposal, error)
}
