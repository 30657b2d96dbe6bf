// Package models defines the shared data types for the coordination engine.
package models

import "time"

// UnitStatus represents the current state of a schedulable unit.
type UnitStatus string

const (
	// StatusTodo indicates the unit has unmet dependencies.
	StatusTodo UnitStatus = "todo"
	// StatusReady indicates all dependencies are done and the unit is assignable.
	StatusReady UnitStatus = "ready"
	// StatusLeased indicates an agent holds an active lease on the unit.
	StatusLeased UnitStatus = "leased"
	// StatusInProgress indicates the leased agent has reported progress.
	StatusInProgress UnitStatus = "in_progress"
	// StatusBlocked indicates the unit cannot proceed without intervention.
	StatusBlocked UnitStatus = "blocked"
	// StatusDone indicates the unit completed successfully.
	StatusDone UnitStatus = "done"
)

// Valid returns true if the status is a known value.
func (s UnitStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusReady, StatusLeased, StatusInProgress, StatusBlocked, StatusDone:
		return true
	default:
		return false
	}
}

// Terminal returns true if the unit will not be scheduled again.
func (s UnitStatus) Terminal() bool {
	return s == StatusDone
}

// UnitKind distinguishes the two variants of a schedulable unit.
type UnitKind string

const (
	// KindTask is a top-level unit of work.
	KindTask UnitKind = "task"
	// KindSubtask is a unit produced by decomposing a task.
	KindSubtask UnitKind = "subtask"
)

// Unit is a schedulable unit of work: either a task or a subtask.
// The graph, lease manager and scheduler operate on units uniformly;
// subtask-only fields are zero for tasks.
type Unit struct {
	// ID is the unique identifier for this unit.
	ID string `json:"id"`
	// Kind is the variant tag (task or subtask).
	Kind UnitKind `json:"kind"`
	// Name is the short description of the unit.
	Name string `json:"name"`
	// Description provides detailed information about the unit.
	Description string `json:"description,omitempty"`
	// EstimatedHours is the expected duration in hours.
	EstimatedHours float64 `json:"estimated_hours"`
	// Priority is an ordinal used for tie-breaking; higher schedules first.
	Priority int `json:"priority,omitempty"`
	// Labels carry free-form tags (e.g. "bugfix", "api") used for
	// decomposition decisions and capability matching.
	Labels []string `json:"labels,omitempty"`
	// Status is the current state of the unit.
	Status UnitStatus `json:"status"`
	// DependsOn lists unit IDs that must be done before this unit is ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// BlockedReason explains why the unit is blocked, if it is.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// Progress is the completion percentage (0-100). For decomposed tasks
	// it is derived from subtask completion.
	Progress float64 `json:"progress,omitempty"`
	// CreatedAt is when the unit was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the unit was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Subtasks lists child subtask IDs in order. Non-empty only for
	// decomposed tasks; a decomposed task is never leased directly.
	Subtasks []string `json:"subtasks,omitempty"`

	// ParentID is the decomposed task this subtask belongs to.
	ParentID string `json:"parent_id,omitempty"`
	// Order is the subtask's position within its parent. The integration
	// subtask always has the maximum order.
	Order int `json:"order,omitempty"`
	// Integration marks the synthesized integration subtask, whose
	// dependencies are all of its siblings.
	Integration bool `json:"integration,omitempty"`
	// Provides describes what this subtask delivers to its siblings.
	Provides string `json:"provides,omitempty"`
	// Requires describes what this subtask consumes from earlier siblings.
	Requires string `json:"requires,omitempty"`
	// FileArtifacts lists the concrete paths this subtask produces.
	FileArtifacts []string `json:"file_artifacts,omitempty"`
}

// Decomposed returns true if the task has been split into subtasks.
// Decomposed tasks are derived nodes: their status rolls up from subtasks
// and they are never handed to an agent.
func (u *Unit) Decomposed() bool {
	return len(u.Subtasks) > 0
}

// Schedulable returns true if the unit can be handed to an agent at all
// (regardless of current readiness).
func (u *Unit) Schedulable() bool {
	return !u.Decomposed()
}

// HasLabel reports whether the unit carries the given label.
func (u *Unit) HasLabel(label string) bool {
	for _, l := range u.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SharedConventions is the per-decomposition record of conventions that
// every subtask references. It is attached once to the decomposition, not
// copied onto each subtask.
type SharedConventions struct {
	// BasePath is the common directory all subtask artifacts live under.
	BasePath string `json:"base_path,omitempty"`
	// ResponseFormat describes the shared response shape between components.
	ResponseFormat string `json:"response_format,omitempty"`
	// ErrorFormat describes the shared error shape between components.
	ErrorFormat string `json:"error_format,omitempty"`
	// NamingRules describe identifier and file naming conventions.
	NamingRules string `json:"naming_rules,omitempty"`
}
