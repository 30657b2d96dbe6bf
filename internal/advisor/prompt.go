package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atriumhq/hivemind/internal/decompose"
	"github.com/atriumhq/hivemind/pkg/models"
)

const plannerSystemPrompt = `You are a planning assistant for a task coordination engine that hands work to autonomous agents.

Given one oversized task, split it into 2-6 subtasks that independent agents can work on in parallel where possible.

Rules:
- Each subtask delivers one coherent component.
- depends_on lists sibling subtask NAMES only, and must be acyclic.
- provides/requires are short free-text contracts; a subtask's requires should be covered by what an earlier sibling provides.
- file_artifacts are the paths the subtask is expected to touch.
- estimated_hours should sum roughly to the parent's estimate.
- Do NOT include an integration subtask; one is synthesized automatically.

Respond with a single JSON object and nothing else:
{
  "subtasks": [
    {
      "name": "...",
      "description": "...",
      "estimated_hours": 2,
      "provides": "...",
      "requires": "...",
      "file_artifacts": ["..."],
      "depends_on": ["..."]
    }
  ],
  "shared_conventions": {
    "base_path": "...",
    "response_format": "...",
    "error_format": "...",
    "naming_rules": "..."
  }
}`

// buildPlannerPrompt renders one task as the user message.
func buildPlannerPrompt(task *models.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if task.EstimatedHours > 0 {
		fmt.Fprintf(&b, "Estimated hours: %.1f\n", task.EstimatedHours)
	}
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(task.Labels, ", "))
	}
	return b.String()
}

// parseProposal extracts the JSON object from the model's response.
// Models occasionally wrap output in prose or a code fence; take the
// outermost brace pair.
func parseProposal(response string) (*decompose.Proposal, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no valid JSON object found in response")
	}
	response = response[start : end+1]

	var proposal decompose.Proposal
	if err := json.Unmarshal([]byte(response), &proposal); err != nil {
		return nil, fmt.Errorf("unmarshal proposal: %w", err)
	}
	if len(proposal.Subtasks) == 0 {
		return nil, fmt.Errorf("proposal contains no subtasks")
	}
	for i, s := range proposal.Subtasks {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("subtask at index %d has empty name", i)
		}
	}
	return &proposal, nil
}
