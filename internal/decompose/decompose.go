package decompose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/hivemind/pkg/models"
)

// Config controls the split decision and generation.
type Config struct {
	// SizeThresholdHours: tasks estimated at or above this are split.
	SizeThresholdHours float64
	// KeywordMinimum: tasks whose description mentions at least this many
	// distinct component keywords are split regardless of size.
	KeywordMinimum int
	// AtomicLabels mark tasks that must never be split.
	AtomicLabels []string
	// ComponentKeywords indicate a task spans multiple components.
	ComponentKeywords []string
	// IntegrationHours is the estimate given to the synthesized
	// integration subtask.
	IntegrationHours float64
	// PlannerTimeout bounds each planner call.
	PlannerTimeout time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SizeThresholdHours: 4,
		KeywordMinimum:     3,
		AtomicLabels:       []string{"bugfix", "hotfix", "refactor", "deploy"},
		ComponentKeywords: []string{
			"api", "database", "model", "ui", "frontend", "backend",
			"schema", "endpoint", "service", "auth", "migration", "cli",
		},
		IntegrationHours: 1,
		PlannerTimeout:   60 * time.Second,
	}
}

// Decomposition is the validated output for one task: an ordered subtask
// list ending in the integration subtask, plus the conventions record every
// subtask references.
type Decomposition struct {
	// TaskID is the decomposed parent task.
	TaskID string
	// Subtasks is ordered by Order; the last entry is the integration
	// subtask, whose dependencies are all of its siblings.
	Subtasks []*models.Unit
	// Conventions is attached once per decomposition, not copied onto
	// each subtask.
	Conventions models.SharedConventions
	// Warnings collects soft validation findings (imprecise contracts,
	// out-of-order dependencies). They are logged, never fatal.
	Warnings []string
	// Fallback is true if the rule-based planner produced the drafts.
	Fallback bool
}

// Decomposer decides whether tasks should be split and produces validated
// decompositions. Text-content synthesis is delegated to the planner; all
// structural validation happens here.
type Decomposer struct {
	cfg      Config
	planner  Planner
	fallback Planner
	debugLog func(format string, args ...interface{})
}

// New creates a Decomposer. planner may be nil, in which case the
// rule-based fallback is used for every task.
func New(cfg Config, planner Planner) *Decomposer {
	def := DefaultConfig()
	if cfg.SizeThresholdHours <= 0 {
		cfg.SizeThresholdHours = def.SizeThresholdHours
	}
	if cfg.KeywordMinimum <= 0 {
		cfg.KeywordMinimum = def.KeywordMinimum
	}
	if len(cfg.AtomicLabels) == 0 {
		cfg.AtomicLabels = def.AtomicLabels
	}
	if len(cfg.ComponentKeywords) == 0 {
		cfg.ComponentKeywords = def.ComponentKeywords
	}
	if cfg.IntegrationHours <= 0 {
		cfg.IntegrationHours = def.IntegrationHours
	}
	if cfg.PlannerTimeout <= 0 {
		cfg.PlannerTimeout = def.PlannerTimeout
	}

	return &Decomposer{
		cfg:      cfg,
		planner:  planner,
		fallback: NewRulePlanner(cfg),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (d *Decomposer) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.debugLog = fn
	}
}

// ShouldDecompose reports whether the task is large or broad enough to
// split. Tasks carrying an atomic label are never split, regardless of
// size.
func (d *Decomposer) ShouldDecompose(task *models.Unit) bool {
	if task.Kind == models.KindSubtask || task.Decomposed() {
		return false
	}
	for _, label := range d.cfg.AtomicLabels {
		if task.HasLabel(label) {
			return false
		}
	}

	if task.EstimatedHours >= d.cfg.SizeThresholdHours {
		return true
	}
	return d.componentCount(task) >= d.cfg.KeywordMinimum
}

// componentCount counts distinct component keywords in the task text.
func (d *Decomposer) componentCount(task *models.Unit) int {
	text := strings.ToLower(task.Name + " " + task.Description)
	count := 0
	for _, kw := range d.cfg.ComponentKeywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	return count
}

// Decompose produces a validated decomposition for the task, or nil if the
// task should be treated as atomic. Planner unavailability and cyclic
// proposals degrade to the atomic fallback rather than failing the
// pipeline; nil-with-nil-error signals "keep the task whole".
func (d *Decomposer) Decompose(ctx context.Context, task *models.Unit) (*Decomposition, error) {
	proposal, usedFallback := d.propose(ctx, task)
	if proposal == nil || len(proposal.Subtasks) == 0 {
		d.debugLog("[decompose] no usable proposal for task %s, keeping atomic", task.ID)
		return nil, nil
	}

	dec, err := d.assemble(task, proposal, usedFallback)
	if err != nil && !usedFallback {
		d.debugLog("[decompose] planner proposal invalid for task %s: %v, retrying with rule-based fallback", task.ID, err)
		var fb *Proposal
		fb, fbErr := d.fallback.ProposeSubtasks(ctx, task)
		if fbErr != nil || fb == nil || len(fb.Subtasks) == 0 {
			return nil, nil
		}
		dec, err = d.assemble(task, fb, true)
	}
	if err != nil {
		// Invalid structure even from the fallback: keep the task whole
		// rather than failing the pipeline.
		d.debugLog("[decompose] proposal invalid for task %s: %v, keeping atomic", task.ID, err)
		return nil, nil
	}

	for _, w := range dec.Warnings {
		d.debugLog("[decompose] task %s: %s", task.ID, w)
	}
	return dec, nil
}

// propose calls the configured planner with a bounded timeout, falling
// back to the rule-based planner on error.
func (d *Decomposer) propose(ctx context.Context, task *models.Unit) (*Proposal, bool) {
	if d.planner != nil {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.PlannerTimeout)
		proposal, err := d.planner.ProposeSubtasks(callCtx, task)
		cancel()
		if err == nil && proposal != nil && len(proposal.Subtasks) > 0 {
			return proposal, false
		}
		if err != nil {
			d.debugLog("[decompose] planner unavailable for task %s: %v, using rule-based fallback", task.ID, err)
		}
	}

	proposal, err := d.fallback.ProposeSubtasks(ctx, task)
	if err != nil {
		return nil, true
	}
	return proposal, true
}

// assemble turns a proposal into subtask units, appends the integration
// subtask, and validates the structure. A cyclic subtask graph is the only
// hard failure.
func (d *Decomposer) assemble(task *models.Unit, proposal *Proposal, usedFallback bool) (*Decomposition, error) {
	now := time.Now()
	nameToID := make(map[string]string, len(proposal.Subtasks))
	subtasks := make([]*models.Unit, 0, len(proposal.Subtasks)+1)
	var warnings []string

	for i, draft := range proposal.Subtasks {
		id := uuid.New().String()
		nameToID[draft.Name] = id

		hours := draft.EstimatedHours
		if hours <= 0 {
			hours = 1
		}
		subtasks = append(subtasks, &models.Unit{
			ID:             id,
			Kind:           models.KindSubtask,
			Name:           draft.Name,
			Description:    draft.Description,
			EstimatedHours: hours,
			Priority:       task.Priority,
			Status:         models.StatusTodo,
			CreatedAt:      now,
			ParentID:       task.ID,
			Order:          i,
			Provides:       draft.Provides,
			Requires:       draft.Requires,
			FileArtifacts:  draft.FileArtifacts,
		})
	}

	for i, draft := range proposal.Subtasks {
		for _, depName := range draft.DependsOn {
			depID, ok := nameToID[depName]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("subtask %q depends on unknown sibling %q, dependency dropped", draft.Name, depName))
				continue
			}
			if depID == subtasks[i].ID {
				warnings = append(warnings, fmt.Sprintf("subtask %q depends on itself, dependency dropped", draft.Name))
				continue
			}
			subtasks[i].DependsOn = append(subtasks[i].DependsOn, depID)
		}
	}

	integration := d.synthesizeIntegration(task, subtasks, now)
	subtasks = append(subtasks, integration)

	result := validate(subtasks)
	warnings = append(warnings, result.Warnings...)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(result.Errors, "; "))
	}

	return &Decomposition{
		TaskID:      task.ID,
		Subtasks:    subtasks,
		Conventions: proposal.Conventions,
		Warnings:    warnings,
		Fallback:    usedFallback,
	}, nil
}

// synthesizeIntegration builds the integration subtask: it depends on
// every sibling, carries the maximum order, and its job is to check that
// the sibling contracts compose.
func (d *Decomposer) synthesizeIntegration(task *models.Unit, siblings []*models.Unit, now time.Time) *models.Unit {
	deps := make([]string, 0, len(siblings))
	maxOrder := -1
	for _, s := range siblings {
		deps = append(deps, s.ID)
		if s.Order > maxOrder {
			maxOrder = s.Order
		}
	}

	return &models.Unit{
		ID:             uuid.New().String(),
		Kind:           models.KindSubtask,
		Name:           fmt.Sprintf("Integrate: %s", task.Name),
		Description:    "Verify the sibling components compose: run cross-component checks against the shared conventions and produce the consolidated documentation.",
		EstimatedHours: d.cfg.IntegrationHours,
		Priority:       task.Priority,
		Status:         models.StatusTodo,
		CreatedAt:      now,
		ParentID:       task.ID,
		Order:          maxOrder + 1,
		Integration:    true,
		DependsOn:      deps,
		Provides:       "integrated assembly with verified cross-component contracts and consolidated documentation",
		Requires:       "all sibling deliverables",
	}
}
