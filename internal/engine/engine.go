package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atriumhq/hivemind/internal/aggregate"
	"github.com/atriumhq/hivemind/internal/cpm"
	"github.com/atriumhq/hivemind/internal/decompose"
	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/internal/lease"
	"github.com/atriumhq/hivemind/internal/sched"
	"github.com/atriumhq/hivemind/pkg/models"
)

// Board mirrors unit transitions as visible cards and columns. Calls are
// one-way: the engine's own state is authoritative and a failing board
// never fails a scheduling operation.
type Board interface {
	UpsertCard(unit *models.Unit) error
	RecordTransition(unitID string, from, to models.UnitStatus) error
}

// History supplies wait-time hints for empty responses and records
// completed-unit durations. Advisory only, never required for
// correctness.
type History interface {
	sched.WaitHinter
	RecordCompletion(unit *models.Unit, took time.Duration)
}

// Assignment is a granted unit of work: the unit plus the lease that
// makes it exclusively the agent's.
type Assignment struct {
	Unit  *models.Unit
	Lease *models.Lease
}

// Engine wires the graph, lease manager, decomposer, matcher and
// aggregator behind the agent-facing contract. It is safe for concurrent
// use by many agents.
type Engine struct {
	logger  *DebugLogger
	emitter *EventEmitter

	graph      *graph.DependencyGraph
	leases     *lease.Manager
	matcher    *sched.Matcher
	decomposer *decompose.Decomposer
	aggregator *aggregate.Aggregator

	board   Board
	history History

	snapMu sync.RWMutex
	snap   *cpm.Result

	convMu      sync.RWMutex
	conventions map[string]models.SharedConventions

	doneOnce sync.Once
}

// Option configures the engine at construction.
type Option func(*settings)

type settings struct {
	logger      *DebugLogger
	board       Board
	history     History
	planner     decompose.Planner
	schedCfg    sched.Config
	decompCfg   decompose.Config
	eventBuffer int
	clock       func() time.Time
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(s *settings) { s.logger = l }
}

// WithBoard wires the board mirror.
func WithBoard(b Board) Option {
	return func(s *settings) { s.board = b }
}

// WithHistory wires the memory collaborator.
func WithHistory(h History) Option {
	return func(s *settings) { s.history = h }
}

// WithPlanner wires the AI planner used for decomposition proposals.
func WithPlanner(p decompose.Planner) Option {
	return func(s *settings) { s.planner = p }
}

// WithSchedConfig sets lease TTL and tie-break policy.
func WithSchedConfig(cfg sched.Config) Option {
	return func(s *settings) { s.schedCfg = cfg }
}

// WithDecomposeConfig sets the split thresholds.
func WithDecomposeConfig(cfg decompose.Config) Option {
	return func(s *settings) { s.decompCfg = cfg }
}

// WithClock injects the lease clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.clock = now }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	s := &settings{
		logger:      NopLogger(),
		schedCfg:    sched.DefaultConfig(),
		decompCfg:   decompose.DefaultConfig(),
		eventBuffer: 256,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := &Engine{
		logger:      s.logger,
		emitter:     NewEventEmitter(s.eventBuffer),
		graph:       graph.New(),
		leases:      lease.NewManagerWithClock(s.clock),
		decomposer:  decompose.New(s.decompCfg, s.planner),
		board:       s.board,
		history:     s.history,
		conventions: make(map[string]models.SharedConventions),
	}
	e.aggregator = aggregate.New(e.graph)
	e.matcher = sched.NewMatcher(s.schedCfg, e.graph, e.leases)
	e.matcher.SetSnapshot(e.Snapshot)
	if s.history != nil {
		e.matcher.SetWaitHinter(s.history)
	}

	e.graph.SetDebugLog(e.logger.Log)
	e.leases.SetDebugLog(e.logger.Log)
	e.matcher.SetDebugLog(e.logger.Log)
	e.decomposer.SetDebugLog(e.logger.Log)
	e.aggregator.SetDebugLog(e.logger.Log)
	return e
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// Close releases the event stream and log file.
func (e *Engine) Close() error {
	e.emitter.Close()
	return e.logger.Close()
}

// LoadTasks decomposes eligible tasks and inserts the whole batch into
// the graph atomically: either every unit lands or, on a cycle, none do.
// Returns the number of schedulable units added.
func (e *Engine) LoadTasks(ctx context.Context, tasks []*models.Unit) (int, error) {
	var batch []*models.Unit
	schedulable := 0

	for _, task := range tasks {
		if task.Kind == "" {
			task.Kind = models.KindTask
		}

		if e.decomposer.ShouldDecompose(task) {
			dec, err := e.decomposer.Decompose(ctx, task)
			if err != nil {
				return 0, fmt.Errorf("decompose task %s: %w", task.ID, err)
			}
			if dec != nil {
				ids := make([]string, 0, len(dec.Subtasks))
				for _, sub := range dec.Subtasks {
					ids = append(ids, sub.ID)
					// Subtasks inherit the parent's external dependencies
					// so none can start before the parent itself could.
					sub.DependsOn = append(sub.DependsOn, task.DependsOn...)
				}
				task.Subtasks = ids

				e.convMu.Lock()
				e.conventions[task.ID] = dec.Conventions
				e.convMu.Unlock()

				batch = append(batch, task)
				batch = append(batch, dec.Subtasks...)
				schedulable += len(dec.Subtasks)

				e.emitter.Emit(Event{
					Type:     EventTaskDecomposed,
					UnitID:   task.ID,
					UnitName: task.Name,
					Message:  fmt.Sprintf("%d subtasks (fallback=%t)", len(dec.Subtasks), dec.Fallback),
				})
				continue
			}
		}

		batch = append(batch, task)
		schedulable++
	}

	if err := e.graph.AddUnits(batch); err != nil {
		return 0, err
	}

	promoted := e.graph.RefreshReady()
	e.refreshSnapshot()

	for _, u := range batch {
		e.notifyUpsert(u)
	}
	for _, id := range promoted {
		e.emitQueued(id)
	}

	e.logger.Log("[engine.LoadTasks] loaded %d tasks as %d units (%d immediately ready)", len(tasks), len(batch), len(promoted))
	return schedulable, nil
}

// RequestNextUnit hands the best ready unit to the agent, or returns a
// sched.NoUnitAvailableError carrying a wait hint.
func (e *Engine) RequestNextUnit(agentID string, capabilities []string) (*Assignment, error) {
	profile := &models.AgentProfile{ID: agentID, Capabilities: capabilities}
	unit, granted, err := e.matcher.FindBestUnit(profile)
	if err != nil {
		return nil, err
	}

	e.notifyTransition(unit.ID, models.StatusReady, models.StatusLeased)
	e.notifyUpsert(unit)
	e.emitter.Emit(Event{
		Type:     EventUnitLeased,
		UnitID:   unit.ID,
		UnitName: unit.Name,
		ParentID: unit.ParentID,
		AgentID:  agentID,
		LeaseID:  granted.ID,
	})
	return &Assignment{Unit: unit, Lease: granted}, nil
}

// ReportProgress records a completion percentage and renews the lease.
// The first report moves the unit from leased to in-progress.
func (e *Engine) ReportProgress(leaseID string, pct float64) error {
	renewed, err := e.leases.Renew(leaseID)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}

	e.graph.SetProgress(renewed.UnitID, pct)
	unit := e.graph.Get(renewed.UnitID)
	if unit != nil && unit.Status == models.StatusLeased {
		e.graph.SetStatus(unit.ID, models.StatusInProgress)
		e.notifyTransition(unit.ID, models.StatusLeased, models.StatusInProgress)
	}
	if unit != nil {
		e.notifyUpsert(unit)
		e.emitter.Emit(Event{
			Type:     EventUnitProgress,
			UnitID:   unit.ID,
			UnitName: unit.Name,
			ParentID: unit.ParentID,
			AgentID:  renewed.AgentID,
			LeaseID:  renewed.ID,
			Progress: pct,
		})
	}
	return nil
}

// ReportOutcome releases the lease and applies the outcome: a completion
// marks the unit done (rolling up into the parent for subtasks) and
// unlocks dependents; a blocker parks the unit until an explicit retry.
func (e *Engine) ReportOutcome(leaseID string, outcome models.Outcome, details string) error {
	if !outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", outcome)
	}

	released, err := e.leases.Release(leaseID, outcome)
	if err != nil {
		return fmt.Errorf("report outcome: %w", err)
	}
	unit := e.graph.Get(released.UnitID)
	if unit == nil {
		return fmt.Errorf("lease %s references unknown unit %s", leaseID, released.UnitID)
	}

	switch outcome {
	case models.OutcomeCompleted:
		e.applyCompletion(unit, released)
	case models.OutcomeBlocked:
		e.applyBlocker(unit, details)
	}

	e.refreshSnapshot()
	e.notifyUpsert(unit)
	e.checkRunDone()
	return nil
}

func (e *Engine) applyCompletion(unit *models.Unit, released *models.Lease) {
	if unit.Kind == models.KindSubtask && unit.ParentID != "" {
		upd, err := e.aggregator.OnSubtaskDone(unit.ID)
		if err != nil {
			e.logger.Log("[engine.ReportOutcome] aggregate completion of %s: %v", unit.ID, err)
			return
		}
		e.notifyTransition(unit.ID, models.StatusInProgress, models.StatusDone)
		e.emitter.Emit(Event{
			Type:     EventUnitCompleted,
			UnitID:   unit.ID,
			UnitName: unit.Name,
			ParentID: unit.ParentID,
			AgentID:  released.AgentID,
		})

		if parent := e.graph.Get(upd.ParentID); parent != nil {
			e.notifyUpsert(parent)
			if upd.ParentDone {
				e.emitter.Emit(Event{
					Type:     EventParentCompleted,
					UnitID:   parent.ID,
					UnitName: parent.Name,
				})
			}
		}
		for _, id := range upd.NewlyReady {
			e.emitQueued(id)
		}
	} else {
		prev := e.graph.SetStatus(unit.ID, models.StatusDone)
		e.graph.SetProgress(unit.ID, 100)
		e.notifyTransition(unit.ID, prev, models.StatusDone)
		e.emitter.Emit(Event{
			Type:     EventUnitCompleted,
			UnitID:   unit.ID,
			UnitName: unit.Name,
			AgentID:  released.AgentID,
		})
		for _, id := range e.graph.RefreshReady() {
			e.emitQueued(id)
		}
	}

	if e.history != nil {
		e.history.RecordCompletion(unit, time.Since(released.GrantedAt))
	}
}

func (e *Engine) applyBlocker(unit *models.Unit, details string) {
	if unit.Kind == models.KindSubtask && unit.ParentID != "" {
		upd, err := e.aggregator.OnSubtaskBlocked(unit.ID, details)
		if err != nil {
			e.logger.Log("[engine.ReportOutcome] aggregate blocker on %s: %v", unit.ID, err)
			return
		}
		if upd.ParentBlocked {
			if parent := e.graph.Get(upd.ParentID); parent != nil {
				e.notifyUpsert(parent)
				e.emitter.Emit(Event{
					Type:     EventParentBlocked,
					UnitID:   parent.ID,
					UnitName: parent.Name,
					Message:  parent.BlockedReason,
				})
			}
		}
	} else {
		e.graph.SetBlocked(unit.ID, details)
	}

	e.notifyTransition(unit.ID, models.StatusInProgress, models.StatusBlocked)
	e.emitter.Emit(Event{
		Type:     EventUnitBlocked,
		UnitID:   unit.ID,
		UnitName: unit.Name,
		ParentID: unit.ParentID,
		Message:  details,
	})
}

// RetryUnit returns a blocked unit to the pool. Blocked units never
// become ready on their own; this is the explicit path back.
func (e *Engine) RetryUnit(unitID string) error {
	unit := e.graph.Get(unitID)
	if unit == nil {
		return fmt.Errorf("unknown unit %s", unitID)
	}

	if unit.Kind == models.KindSubtask && unit.ParentID != "" {
		upd, err := e.aggregator.Retry(unitID)
		if err != nil {
			return err
		}
		for _, id := range upd.NewlyReady {
			e.emitQueued(id)
		}
	} else {
		if unit.Status != models.StatusBlocked {
			return fmt.Errorf("unit %s is %s, only blocked units can be retried", unitID, unit.Status)
		}
		e.graph.SetStatus(unitID, models.StatusTodo)
		for _, id := range e.graph.RefreshReady() {
			e.emitQueued(id)
		}
	}

	e.refreshSnapshot()
	e.notifyUpsert(unit)
	return nil
}

// Reclaim sweeps expired leases and returns the reclaimed units to the
// ready pool. FindBestUnit does this lazily anyway; run loops call it to
// surface reclaim events between scheduling decisions.
func (e *Engine) Reclaim() int {
	stale := e.leases.ReclaimExpired()
	for _, l := range stale {
		prev := e.graph.SetStatus(l.UnitID, models.StatusReady)
		e.notifyTransition(l.UnitID, prev, models.StatusReady)
		e.emitter.Emit(Event{
			Type:    EventLeaseReclaimed,
			UnitID:  l.UnitID,
			AgentID: l.AgentID,
			LeaseID: l.ID,
			Message: "lease expired, unit returned to pool",
		})
		if u := e.graph.Get(l.UnitID); u != nil {
			e.notifyUpsert(u)
		}
	}
	return len(stale)
}

// Snapshot returns the current CPM analysis. Recomputed on every graph
// mutation, never mutated in place.
func (e *Engine) Snapshot() *cpm.Result {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

func (e *Engine) refreshSnapshot() {
	result, err := cpm.Analyze(e.graph)
	if err != nil {
		e.logger.Log("[engine.refreshSnapshot] analysis failed: %v", err)
		return
	}
	e.snapMu.Lock()
	e.snap = result
	e.snapMu.Unlock()
}

// Conventions returns the shared conventions recorded when the task was
// decomposed.
func (e *Engine) Conventions(taskID string) (models.SharedConventions, bool) {
	e.convMu.RLock()
	defer e.convMu.RUnlock()
	conv, ok := e.conventions[taskID]
	return conv, ok
}

// Units returns a snapshot of all units in creation order.
func (e *Engine) Units() []*models.Unit {
	return e.graph.Units()
}

// Get returns a unit by ID, or nil.
func (e *Engine) Get(unitID string) *models.Unit {
	return e.graph.Get(unitID)
}

// Lookup returns an active lease by ID.
func (e *Engine) Lookup(leaseID string) (*models.Lease, error) {
	return e.leases.Lookup(leaseID)
}

// StatusCounts tallies units per status.
func (e *Engine) StatusCounts() map[models.UnitStatus]int {
	counts := make(map[models.UnitStatus]int)
	for _, u := range e.graph.Units() {
		counts[u.Status]++
	}
	return counts
}

// Finished reports whether every unit in the graph is done.
func (e *Engine) Finished() bool {
	units := e.graph.Units()
	if len(units) == 0 {
		return false
	}
	for _, u := range units {
		if u.Status != models.StatusDone {
			return false
		}
	}
	return true
}

// Stalled reports whether no further progress is possible without
// intervention: nothing ready, nothing leased, at least one blocked unit.
func (e *Engine) Stalled() bool {
	if e.Finished() {
		return false
	}
	blocked := false
	for _, u := range e.graph.Units() {
		switch u.Status {
		case models.StatusReady, models.StatusLeased, models.StatusInProgress:
			return false
		case models.StatusBlocked:
			blocked = true
		}
	}
	if !blocked {
		// Todo units may still be promoted once something completes; with
		// nothing in flight, check whether any could ever become ready.
		return len(e.graph.ReadyUnits()) == 0 && e.graph.Size() > 0
	}
	return true
}

func (e *Engine) checkRunDone() {
	if !e.Finished() {
		return
	}
	e.doneOnce.Do(func() {
		e.emitter.Emit(Event{Type: EventRunDone, Message: "all units done"})
		e.logger.Log("[engine] run complete: %d units done", e.graph.Size())
	})
}

func (e *Engine) emitQueued(unitID string) {
	u := e.graph.Get(unitID)
	if u == nil {
		return
	}
	e.notifyTransition(u.ID, models.StatusTodo, models.StatusReady)
	e.notifyUpsert(u)
	e.emitter.Emit(Event{
		Type:     EventUnitQueued,
		UnitID:   u.ID,
		UnitName: u.Name,
		ParentID: u.ParentID,
	})
}

// notifyUpsert mirrors the unit to the board, logging failures instead of
// surfacing them.
func (e *Engine) notifyUpsert(u *models.Unit) {
	if e.board == nil {
		return
	}
	if err := e.board.UpsertCard(u); err != nil {
		e.logger.Log("[engine.board] upsert %s: %v", u.ID, err)
	}
}

func (e *Engine) notifyTransition(unitID string, from, to models.UnitStatus) {
	if e.board == nil {
		return
	}
	if err := e.board.RecordTransition(unitID, from, to); err != nil {
		e.logger.Log("[engine.board] transition %s %s->%s: %v", unitID, from, to, err)
	}
}

// ErrNoUnit reports whether the error is the normal empty response.
func ErrNoUnit(err error) (*sched.NoUnitAvailableError, bool) {
	var noUnit *sched.NoUnitAvailableError
	if errors.As(err, &noUnit) {
		return noUnit, true
	}
	return nil, false
}
