package decompose

import (
	"context"
	"fmt"
	"strings"

	"github.com/atriumhq/hivemind/pkg/models"
)

// component is one rule-based split target. Keywords are matched against
// the task text; dependsOn names earlier components by title.
type component struct {
	title     string
	summary   string
	provides  string
	requires  string
	artifact  string
	keywords  []string
	dependsOn []string
}

// componentTable drives the rule-based split. Order matters: later entries
// may depend on earlier ones.
var componentTable = []component{
	{
		title:    "Data model",
		summary:  "Define the data model, schema and migrations.",
		provides: "schema and data access layer",
		artifact: "store",
		keywords: []string{"database", "schema", "model", "migration"},
	},
	{
		title:     "Service layer",
		summary:   "Implement the service endpoints and core business logic.",
		provides:  "service endpoints and business logic",
		requires:  "schema and data access layer",
		artifact:  "service",
		keywords:  []string{"api", "backend", "endpoint", "service"},
		dependsOn: []string{"Data model"},
	},
	{
		title:     "Authentication",
		summary:   "Implement authentication and access control.",
		provides:  "authentication and access control",
		requires:  "service endpoints",
		artifact:  "auth",
		keywords:  []string{"auth"},
		dependsOn: []string{"Service layer"},
	},
	{
		title:     "User interface",
		summary:   "Build the user-facing interface against the service layer.",
		provides:  "user interface",
		requires:  "service endpoints and business logic",
		artifact:  "ui",
		keywords:  []string{"ui", "frontend"},
		dependsOn: []string{"Service layer"},
	},
	{
		title:     "Command-line interface",
		summary:   "Build the command-line interface against the service layer.",
		provides:  "command-line interface",
		requires:  "service endpoints and business logic",
		artifact:  "cli",
		keywords:  []string{"cli"},
		dependsOn: []string{"Service layer"},
	},
}

// RulePlanner is the deterministic fallback planner. It splits a task by
// the components its description mentions, or into a generic
// implementation/verification pair when no components are recognizable.
// Used whenever the AI collaborator is unavailable or its proposal fails
// validation.
type RulePlanner struct {
	cfg Config
}

// NewRulePlanner creates the rule-based fallback planner.
func NewRulePlanner(cfg Config) *RulePlanner {
	return &RulePlanner{cfg: cfg}
}

// ProposeSubtasks implements Planner.
func (p *RulePlanner) ProposeSubtasks(ctx context.Context, task *models.Unit) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(task.Name + " " + task.Description)
	base := slug(task.Name)

	var matched []component
	found := make(map[string]bool)
	for _, c := range componentTable {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, c)
				found[c.title] = true
				break
			}
		}
	}

	var drafts []DraftSubtask
	if len(matched) >= 2 {
		share := splitHours(task.EstimatedHours, len(matched))
		for i, c := range matched {
			var deps []string
			for _, depTitle := range c.dependsOn {
				if found[depTitle] {
					deps = append(deps, depTitle)
				}
			}
			drafts = append(drafts, DraftSubtask{
				Name:           c.title,
				Description:    c.summary,
				EstimatedHours: share[i],
				Provides:       c.provides,
				Requires:       c.requires,
				FileArtifacts:  []string{fmt.Sprintf("%s/%s", base, c.artifact)},
				DependsOn:      deps,
			})
		}
	} else {
		// No recognizable components: generic two-way split.
		share := splitHours(task.EstimatedHours, 2)
		drafts = []DraftSubtask{
			{
				Name:           "Core implementation",
				Description:    fmt.Sprintf("Implement the core of: %s", task.Name),
				EstimatedHours: share[0],
				Provides:       "core implementation",
				FileArtifacts:  []string{base + "/core"},
			},
			{
				Name:           "Tests and documentation",
				Description:    "Cover the core implementation with tests and document its behavior.",
				EstimatedHours: share[1],
				Provides:       "tests and documentation",
				Requires:       "core implementation",
				FileArtifacts:  []string{base + "/tests"},
				DependsOn:      []string{"Core implementation"},
			},
		}
	}

	return &Proposal{
		Subtasks: drafts,
		Conventions: models.SharedConventions{
			BasePath:       base,
			ResponseFormat: "structured result objects with explicit error fields",
			ErrorFormat:    "wrapped errors carrying the failing component name",
			NamingRules:    "lower_snake_case files, one component per directory",
		},
	}, nil
}

// splitHours divides the parent estimate evenly, defaulting each share to
// one hour when the parent has no estimate.
func splitHours(total float64, n int) []float64 {
	shares := make([]float64, n)
	per := 1.0
	if total > 0 && n > 0 {
		per = total / float64(n)
	}
	for i := range shares {
		shares[i] = per
	}
	return shares
}

// slug normalizes a task name into a path-friendly base directory.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if s == "" {
		s = "task"
	}
	return s
}
