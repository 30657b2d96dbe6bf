// Package aggregate rolls subtask lifecycle up into parent task state.
package aggregate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/pkg/models"
)

// ErrNotSubtask indicates the unit is not a subtask of a decomposed task.
var ErrNotSubtask = errors.New("unit is not a subtask")

// ErrUnknownUnit indicates the unit is not in the graph.
var ErrUnknownUnit = errors.New("unknown unit")

// Update describes the effect of one subtask report on its parent.
type Update struct {
	// ParentID is the decomposed task the subtask belongs to.
	ParentID string
	// Progress is the parent's completion percentage after the report.
	Progress float64
	// ParentDone is true on the report that completed the parent. It is
	// set at most once per parent across the whole run.
	ParentDone bool
	// ParentBlocked is true when the report left the parent unable to
	// make further progress.
	ParentBlocked bool
	// NewlyReady lists units promoted to ready by this report, including
	// dependents of the parent when it auto-completed.
	NewlyReady []string
}

// Aggregator applies subtask outcomes to the graph and derives parent
// state. Parents are never marked Done by callers; completion is derived
// here, exactly once, when the last subtask finishes.
type Aggregator struct {
	graph *graph.DependencyGraph
	// mu serializes parent derivation so two subtasks of the same parent
	// finishing together cannot both observe "all done".
	mu       sync.Mutex
	debugLog func(format string, args ...interface{})
}

// New creates an Aggregator over the shared graph.
func New(g *graph.DependencyGraph) *Aggregator {
	return &Aggregator{
		graph:    g,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (a *Aggregator) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		a.debugLog = fn
	}
}

// OnSubtaskDone marks the subtask done, recomputes parent progress and, if
// every sibling is now done, transitions the parent to done and promotes
// its dependents.
func (a *Aggregator) OnSubtaskDone(subtaskID string) (*Update, error) {
	sub, parent, err := a.pair(subtaskID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.graph.SetStatus(sub.ID, models.StatusDone)
	a.graph.SetProgress(sub.ID, 100)

	done, total := a.countDone(parent)
	progress := float64(done) / float64(total) * 100
	a.graph.SetProgress(parent.ID, progress)

	update := &Update{ParentID: parent.ID, Progress: progress}
	if done == total {
		prev := a.graph.SetStatus(parent.ID, models.StatusDone)
		if prev != models.StatusDone {
			update.ParentDone = true
			a.debugLog("[aggregate] parent %s auto-completed (%d/%d subtasks)", parent.ID, done, total)
		}
	}

	update.NewlyReady = a.graph.RefreshReady()
	return update, nil
}

// OnSubtaskBlocked marks the subtask blocked and blocks the parent only
// when no unblocked sibling can still make progress, meaning every
// remaining sibling sits downstream of a blocked one.
func (a *Aggregator) OnSubtaskBlocked(subtaskID, reason string) (*Update, error) {
	sub, parent, err := a.pair(subtaskID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.graph.SetBlocked(sub.ID, reason)

	done, total := a.countDone(parent)
	update := &Update{
		ParentID: parent.ID,
		Progress: float64(done) / float64(total) * 100,
	}

	if !a.canProgress(parent) {
		a.graph.SetBlocked(parent.ID, fmt.Sprintf("subtask %q blocked: %s", sub.Name, reason))
		update.ParentBlocked = true
		a.debugLog("[aggregate] parent %s blocked: no sibling of %s can progress", parent.ID, sub.ID)
	}
	return update, nil
}

// Retry clears a blocked subtask back to todo and re-derives the parent,
// unblocking it if work can flow again.
func (a *Aggregator) Retry(subtaskID string) (*Update, error) {
	sub, parent, err := a.pair(subtaskID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if sub.Status != models.StatusBlocked {
		return nil, fmt.Errorf("subtask %s is %s, only blocked subtasks can be retried", sub.ID, sub.Status)
	}
	a.graph.SetStatus(sub.ID, models.StatusTodo)

	if parent.Status == models.StatusBlocked && a.canProgress(parent) {
		a.graph.SetStatus(parent.ID, models.StatusTodo)
	}

	done, total := a.countDone(parent)
	return &Update{
		ParentID:   parent.ID,
		Progress:   float64(done) / float64(total) * 100,
		NewlyReady: a.graph.RefreshReady(),
	}, nil
}

// pair resolves a subtask and its parent.
func (a *Aggregator) pair(subtaskID string) (*models.Unit, *models.Unit, error) {
	sub := a.graph.Get(subtaskID)
	if sub == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownUnit, subtaskID)
	}
	if sub.Kind != models.KindSubtask || sub.ParentID == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotSubtask, subtaskID)
	}
	parent := a.graph.Get(sub.ParentID)
	if parent == nil {
		return nil, nil, fmt.Errorf("%w: parent %s of subtask %s", ErrUnknownUnit, sub.ParentID, subtaskID)
	}
	return sub, parent, nil
}

// countDone returns done and total subtask counts for a parent.
func (a *Aggregator) countDone(parent *models.Unit) (done, total int) {
	total = len(parent.Subtasks)
	for _, id := range parent.Subtasks {
		if s := a.graph.Get(id); s != nil && s.Status == models.StatusDone {
			done++
		}
	}
	return done, total
}

// canProgress reports whether any sibling of the parent can still move:
// a subtask that is neither done nor blocked and does not depend,
// transitively, on a blocked sibling.
func (a *Aggregator) canProgress(parent *models.Unit) bool {
	siblings := make(map[string]*models.Unit, len(parent.Subtasks))
	for _, id := range parent.Subtasks {
		if s := a.graph.Get(id); s != nil {
			siblings[id] = s
		}
	}

	stuck := make(map[string]bool)
	var isStuck func(id string) bool
	isStuck = func(id string) bool {
		if v, seen := stuck[id]; seen {
			return v
		}
		stuck[id] = false // break self-reference; subtask graphs are acyclic
		s := siblings[id]
		if s == nil {
			return false
		}
		if s.Status == models.StatusBlocked {
			stuck[id] = true
			return true
		}
		for _, depID := range s.DependsOn {
			if _, sibling := siblings[depID]; !sibling {
				continue
			}
			dep := siblings[depID]
			if dep.Status == models.StatusDone {
				continue
			}
			if isStuck(depID) {
				stuck[id] = true
				return true
			}
		}
		return false
	}

	for id, s := range siblings {
		if s.Status == models.StatusDone || s.Status == models.StatusBlocked {
			continue
		}
		if !isStuck(id) {
			return true
		}
	}
	return false
}
