// Package graph provides the dependency graph for unit scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atriumhq/hivemind/pkg/models"
)

// ErrCycleDetected indicates an insertion would create a circular dependency.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of schedulable units.
// Units are nodes, and edges represent "blocked by" relationships.
// Insertions that would create a cycle are rejected before any state is
// committed, so a failed call leaves the graph unchanged.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps unit ID to the unit itself.
	nodes map[string]*models.Unit
	// edges maps unit ID to IDs of units it depends on (is blocked by).
	edges map[string][]string
	// seq maps unit ID to its insertion sequence, used as the stable
	// creation-order tie-break.
	seq     map[string]int
	nextSeq int
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Unit),
		edges:    make(map[string][]string),
		seq:      make(map[string]int),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddUnit inserts a single unit depending on the given unit IDs.
// Equivalent to AddUnits with a one-element batch.
func (g *DependencyGraph) AddUnit(unit *models.Unit, deps []string) error {
	if deps != nil {
		unit.DependsOn = deps
	}
	return g.AddUnits([]*models.Unit{unit})
}

// AddUnits inserts a batch of units, using each unit's DependsOn as its
// edges. Dependencies may reference units already in the graph or units
// elsewhere in the batch. The batch is staged and validated first: if any
// dependency is unknown or the combined graph would contain a cycle,
// nothing is committed.
func (g *DependencyGraph) AddUnits(units []*models.Unit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.AddUnits] staging %d units", len(units))

	staged := make(map[string][]string, len(units))
	for _, unit := range units {
		if unit.ID == "" {
			return fmt.Errorf("unit %q has empty id", unit.Name)
		}
		if _, exists := g.nodes[unit.ID]; exists {
			return fmt.Errorf("unit %s already exists", unit.ID)
		}
		if _, exists := staged[unit.ID]; exists {
			return fmt.Errorf("unit %s appears twice in batch", unit.ID)
		}
		staged[unit.ID] = unit.DependsOn
	}

	for _, unit := range units {
		for _, depID := range unit.DependsOn {
			_, inGraph := g.nodes[depID]
			_, inBatch := staged[depID]
			if !inGraph && !inBatch {
				return fmt.Errorf("unit %s depends on unknown unit %s", unit.ID, depID)
			}
		}
	}

	if g.hasCycleWith(staged) {
		return ErrCycleDetected
	}

	// Commit.
	for _, unit := range units {
		g.nodes[unit.ID] = unit
		g.edges[unit.ID] = append([]string(nil), unit.DependsOn...)
		g.seq[unit.ID] = g.nextSeq
		g.nextSeq++
		if unit.Status == "" {
			unit.Status = models.StatusTodo
		}
	}

	g.debugLog("[graph.AddUnits] committed %d units, graph size now %d", len(units), len(g.nodes))
	return nil
}

// AddDependency adds a single edge from unitID to depID. Rejected with
// ErrCycleDetected if the edge would create a cycle; the graph is unchanged
// on failure.
func (g *DependencyGraph) AddDependency(unitID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	unit, ok := g.nodes[unitID]
	if !ok {
		return fmt.Errorf("unknown unit %s", unitID)
	}
	if _, ok := g.nodes[depID]; !ok {
		return fmt.Errorf("unknown dependency %s", depID)
	}
	for _, existing := range g.edges[unitID] {
		if existing == depID {
			return nil
		}
	}

	staged := map[string][]string{unitID: append(append([]string(nil), g.edges[unitID]...), depID)}
	if g.hasCycleWith(staged) {
		return ErrCycleDetected
	}

	g.edges[unitID] = append(g.edges[unitID], depID)
	unit.DependsOn = append(unit.DependsOn, depID)
	return nil
}

// hasCycleWith runs cycle detection over the current graph with the staged
// edge additions and overrides applied. Uses depth-first search with
// coloring to find back edges. Caller must hold the lock.
func (g *DependencyGraph) hasCycleWith(staged map[string][]string) bool {
	edgesOf := func(id string) []string {
		if deps, ok := staged[id]; ok {
			return deps
		}
		return g.edges[id]
	}

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes)+len(staged))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range edgesOf(id) {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	for id := range staged {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// IsReady returns true iff every dependency of the unit is done and the
// unit itself can still be handed out. Decomposed tasks are derived nodes
// and are never ready; only their subtasks are.
func (g *DependencyGraph) IsReady(unitID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isReadyLocked(unitID)
}

func (g *DependencyGraph) isReadyLocked(unitID string) bool {
	unit, ok := g.nodes[unitID]
	if !ok {
		return false
	}
	if unit.Decomposed() {
		return false
	}
	switch unit.Status {
	case models.StatusTodo, models.StatusReady:
	default:
		return false
	}

	for _, depID := range g.edges[unitID] {
		dep, ok := g.nodes[depID]
		if !ok || dep.Status != models.StatusDone {
			return false
		}
	}
	return true
}

// ReadyUnits returns all ready units ordered by priority (highest first)
// then creation order. The slice is a snapshot; callers re-query after a
// failed grant rather than holding it across scheduling decisions.
func (g *DependencyGraph) ReadyUnits() []*models.Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Unit
	for id := range g.nodes {
		if g.isReadyLocked(id) {
			ready = append(ready, g.nodes[id])
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return g.seq[ready[i].ID] < g.seq[ready[j].ID]
	})

	g.debugLog("[graph.ReadyUnits] %d of %d units ready", len(ready), len(g.nodes))
	return ready
}

// Dependents returns the IDs of units that list unitID as a dependency.
// Used to re-evaluate readiness after a completion.
func (g *DependencyGraph) Dependents(unitID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == unitID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	g.sortBySeq(dependents)
	return dependents
}

// Dependencies returns the IDs of units the given unit depends on.
func (g *DependencyGraph) Dependencies(unitID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[unitID]...)
}

// TopologicalOrder returns unit IDs in an order where dependencies come
// before dependents, using Kahn's algorithm with creation-order tie-breaks
// for determinism. Used for diagnostics and estimation only, never for
// scheduling decisions.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id, deps := range g.edges {
		inDegree[id] = len(deps)
		for _, depID := range deps {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var queue []string
	for id := range g.nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	g.sortBySeq(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []string
		for _, dep := range dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				newReady = append(newReady, dep)
			}
		}
		g.sortBySeq(newReady)
		queue = append(queue, newReady...)
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("topological sort failed: %w (%d of %d units sorted)", ErrCycleDetected, len(order), len(g.nodes))
	}
	return order, nil
}

// sortBySeq orders IDs by insertion sequence. Caller must hold the lock.
func (g *DependencyGraph) sortBySeq(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return g.seq[ids[i]] < g.seq[ids[j]] })
}

// Get returns the unit for a given ID, or nil if not found.
func (g *DependencyGraph) Get(unitID string) *models.Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[unitID]
}

// Units returns a snapshot of all units in creation order.
func (g *DependencyGraph) Units() []*models.Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()

	units := make([]*models.Unit, 0, len(g.nodes))
	for _, u := range g.nodes {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return g.seq[units[i].ID] < g.seq[units[j].ID] })
	return units
}

// Size returns the number of units in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// SetStatus transitions a unit to the given status, returning the previous
// status. Unknown units return an empty previous status.
func (g *DependencyGraph) SetStatus(unitID string, status models.UnitStatus) models.UnitStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	unit, ok := g.nodes[unitID]
	if !ok {
		return ""
	}
	prev := unit.Status
	unit.Status = status
	if status != models.StatusBlocked {
		unit.BlockedReason = ""
	}
	if status == models.StatusDone && unit.CompletedAt == nil {
		now := time.Now()
		unit.CompletedAt = &now
	}
	g.debugLog("[graph.SetStatus] unit %s: %s -> %s", unitID, prev, status)
	return prev
}

// SetBlocked marks a unit blocked with a reason.
func (g *DependencyGraph) SetBlocked(unitID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if unit, ok := g.nodes[unitID]; ok {
		unit.Status = models.StatusBlocked
		unit.BlockedReason = reason
	}
}

// SetProgress records the completion percentage for a unit, clamped to
// [0, 100].
func (g *DependencyGraph) SetProgress(unitID string, pct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	unit, ok := g.nodes[unitID]
	if !ok {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	unit.Progress = pct
}

// RefreshReady promotes Todo units whose dependencies are now all done to
// Ready, returning the IDs promoted. Called after completions so the board
// mirror sees the Todo -> Ready transition.
func (g *DependencyGraph) RefreshReady() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var promoted []string
	for id, unit := range g.nodes {
		if unit.Status != models.StatusTodo || unit.Decomposed() {
			continue
		}
		depsDone := true
		for _, depID := range g.edges[id] {
			dep, ok := g.nodes[depID]
			if !ok || dep.Status != models.StatusDone {
				depsDone = false
				break
			}
		}
		if depsDone {
			unit.Status = models.StatusReady
			promoted = append(promoted, id)
		}
	}
	g.sortBySeq(promoted)
	return promoted
}
