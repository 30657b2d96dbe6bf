package cpm

import (
	"math"
	"reflect"
	"testing"

	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/pkg/models"
)

func unit(id string, hours float64, deps ...string) *models.Unit {
	return &models.Unit{
		ID:             id,
		Kind:           models.KindTask,
		Name:           id,
		EstimatedHours: hours,
		Status:         models.StatusTodo,
		DependsOn:      deps,
	}
}

func buildGraph(t *testing.T, units ...*models.Unit) *graph.DependencyGraph {
	t.Helper()
	g := graph.New()
	if err := g.AddUnits(units); err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyzeChainWithParallelBranch(t *testing.T) {
	// A(2h) -> B(3h) -> C(1h), plus independent D(4h).
	g := buildGraph(t,
		unit("A", 2),
		unit("B", 3, "A"),
		unit("C", 1, "B"),
		unit("D", 4),
	)

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if !approx(result.CriticalPathHours, 6) {
		t.Errorf("critical path length = %v, want 6", result.CriticalPathHours)
	}
	if !reflect.DeepEqual(result.CriticalPath, []string{"A", "B", "C"}) {
		t.Errorf("critical path = %v, want [A B C]", result.CriticalPath)
	}
	if result.PeakParallelism != 2 {
		t.Errorf("peak parallelism = %d, want 2 (A and D overlap)", result.PeakParallelism)
	}
	if result.OptimalAgents != 2 {
		t.Errorf("optimal agents = %d, want 2", result.OptimalAgents)
	}
	if !approx(result.EfficiencyGain, 0.4) {
		t.Errorf("efficiency gain = %v, want 0.4", result.EfficiencyGain)
	}

	// D has slack 2 (can start as late as t=2 and still finish by 6).
	d := result.Schedules["D"]
	if !approx(d.Slack, 2) {
		t.Errorf("slack(D) = %v, want 2", d.Slack)
	}
	if d.Critical {
		t.Error("D should not be critical")
	}

	b := result.Schedules["B"]
	if !approx(b.EarliestStart, 2) || !approx(b.EarliestFinish, 5) {
		t.Errorf("B schedule = [%v, %v], want [2, 5]", b.EarliestStart, b.EarliestFinish)
	}
	if !b.Critical || !approx(b.Slack, 0) {
		t.Errorf("B should be critical with zero slack, got slack %v", b.Slack)
	}
}

func TestAnalyzeIndependentTasks(t *testing.T) {
	// 5 independent 1h tasks: constant parallelism 5 over [0, 1).
	g := buildGraph(t,
		unit("t1", 1), unit("t2", 1), unit("t3", 1), unit("t4", 1), unit("t5", 1),
	)

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if result.PeakParallelism != 5 {
		t.Errorf("peak parallelism = %d, want 5", result.PeakParallelism)
	}
	if result.OptimalAgents != 5 {
		t.Errorf("optimal agents = %d, want 5", result.OptimalAgents)
	}
	if !approx(result.CriticalPathHours, 1) {
		t.Errorf("critical path = %v, want 1", result.CriticalPathHours)
	}

	// Timeline: concurrency 5 at t=0, 0 at t=1.
	if len(result.Timeline) != 2 {
		t.Fatalf("expected 2 boundary samples, got %d", len(result.Timeline))
	}
	if result.Timeline[0].Concurrency != 5 {
		t.Errorf("concurrency at t=0 is %d, want 5", result.Timeline[0].Concurrency)
	}
	if result.Timeline[1].Concurrency != 0 {
		t.Errorf("concurrency at t=1 is %d, want 0", result.Timeline[1].Concurrency)
	}
}

func TestAnalyzeDefaultDuration(t *testing.T) {
	g := buildGraph(t, unit("a", 0))

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !approx(result.CriticalPathHours, defaultDuration) {
		t.Errorf("expected default duration %v, got %v", defaultDuration, result.CriticalPathHours)
	}
}

func TestAnalyzeExpandsDecomposedParents(t *testing.T) {
	// parent (decomposed into s1 -> s2) with a downstream task depending on
	// the parent. The downstream ES must wait for both subtasks.
	parent := unit("p", 8)
	parent.Subtasks = []string{"p.1", "p.2"}
	s1 := unit("p.1", 2)
	s1.Kind = models.KindSubtask
	s1.ParentID = "p"
	s2 := unit("p.2", 3, "p.1")
	s2.Kind = models.KindSubtask
	s2.ParentID = "p"
	down := unit("down", 1, "p")

	g := buildGraph(t, parent, s1, s2, down)

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// Parent is excluded from analysis entirely.
	if _, ok := result.Schedules["p"]; ok {
		t.Error("decomposed parent should not be scheduled")
	}

	d := result.Schedules["down"]
	if !approx(d.EarliestStart, 5) {
		t.Errorf("down ES = %v, want 5 (after both subtasks)", d.EarliestStart)
	}
	if !approx(result.CriticalPathHours, 6) {
		t.Errorf("critical path = %v, want 6", result.CriticalPathHours)
	}
	// Parent's own 8h estimate must not contribute to total work.
	if !approx(result.TotalWorkHours, 6) {
		t.Errorf("total work = %v, want 6", result.TotalWorkHours)
	}
}

func TestAnalyzeEmptyGraph(t *testing.T) {
	result, err := Analyze(graph.New())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.CriticalPathHours != 0 || result.PeakParallelism != 0 || result.EfficiencyGain != 0 {
		t.Errorf("empty graph should produce zero result, got %+v", result)
	}
}
