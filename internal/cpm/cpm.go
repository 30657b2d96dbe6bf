package cpm

import (
	"fmt"
	"math"
	"sort"

	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/pkg/models"
)

// slackEpsilon absorbs float rounding when classifying zero-slack units.
const slackEpsilon = 1e-9

// defaultDuration is used for units with no estimate.
const defaultDuration = 1.0

// Analyze performs critical path analysis on the graph's schedulable units.
// Decomposed parents are derived nodes: they are excluded, and a dependency
// on one is expanded to its subtasks so the chain length is preserved
// without double counting the parent's own estimate.
func Analyze(g *graph.DependencyGraph) (*Result, error) {
	units := g.Units()

	decomposed := make(map[string]*models.Unit)
	nodes := make(map[string]*models.Unit)
	for _, u := range units {
		if u.Decomposed() {
			decomposed[u.ID] = u
			continue
		}
		nodes[u.ID] = u
	}

	// Expand dependencies: a dep on a decomposed parent becomes deps on all
	// of its subtasks (in practice the integration subtask dominates).
	deps := make(map[string][]string, len(nodes))
	for id := range nodes {
		var expanded []string
		for _, depID := range g.Dependencies(id) {
			if parent, ok := decomposed[depID]; ok {
				expanded = append(expanded, parent.Subtasks...)
			} else {
				expanded = append(expanded, depID)
			}
		}
		deps[id] = expanded
	}

	order, err := topoSort(nodes, deps)
	if err != nil {
		return nil, err
	}

	durations := make(map[string]float64, len(nodes))
	for id, u := range nodes {
		if u.EstimatedHours > 0 {
			durations[id] = u.EstimatedHours
		} else {
			durations[id] = defaultDuration
		}
	}

	result := &Result{
		Schedules: make(map[string]*Schedule, len(nodes)),
		TopoOrder: order,
	}
	for _, id := range order {
		result.Schedules[id] = &Schedule{UnitID: id}
	}

	// Forward pass: ES = max(EF of dependencies), roots start at 0.
	for _, id := range order {
		s := result.Schedules[id]
		es := 0.0
		for _, depID := range deps[id] {
			if dep, ok := result.Schedules[depID]; ok && dep.EarliestFinish > es {
				es = dep.EarliestFinish
			}
		}
		s.EarliestStart = es
		s.EarliestFinish = es + durations[id]
	}

	total := 0.0
	for _, s := range result.Schedules {
		if s.EarliestFinish > total {
			total = s.EarliestFinish
		}
	}
	result.CriticalPathHours = total

	// Backward pass: LF = min(LS of dependents), leaves end at project end.
	dependents := make(map[string][]string, len(nodes))
	for id, ds := range deps {
		for _, depID := range ds {
			dependents[depID] = append(dependents[depID], id)
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		s := result.Schedules[id]

		lf := total
		for _, succ := range dependents[id] {
			if succS, ok := result.Schedules[succ]; ok && succS.LatestStart < lf {
				lf = succS.LatestStart
			}
		}
		s.LatestFinish = lf
		s.LatestStart = lf - durations[id]
		s.Slack = s.LatestStart - s.EarliestStart
		s.Critical = math.Abs(s.Slack) < slackEpsilon
	}

	for _, id := range order {
		if result.Schedules[id].Critical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}

	for _, d := range durations {
		result.TotalWorkHours += d
	}
	if result.TotalWorkHours > 0 {
		result.EfficiencyGain = (result.TotalWorkHours - result.CriticalPathHours) / result.TotalWorkHours
	}

	result.Timeline = sampleTimeline(result)
	for _, sample := range result.Timeline {
		if sample.Concurrency > result.PeakParallelism {
			result.PeakParallelism = sample.Concurrency
		}
	}
	result.OptimalAgents = result.PeakParallelism

	return result, nil
}

// sampleTimeline samples concurrency at every unit boundary (each distinct
// earliest start and finish). Concurrency at time t counts units with
// ES <= t < EF.
func sampleTimeline(result *Result) []Sample {
	boundarySet := make(map[float64]struct{})
	for _, s := range result.Schedules {
		boundarySet[s.EarliestStart] = struct{}{}
		boundarySet[s.EarliestFinish] = struct{}{}
	}

	boundaries := make([]float64, 0, len(boundarySet))
	for t := range boundarySet {
		boundaries = append(boundaries, t)
	}
	sort.Float64s(boundaries)

	samples := make([]Sample, 0, len(boundaries))
	for _, t := range boundaries {
		count := 0
		for _, s := range result.Schedules {
			if s.EarliestStart <= t && t < s.EarliestFinish {
				count++
			}
		}
		samples = append(samples, Sample{Hours: t, Concurrency: count})
	}
	return samples
}

// topoSort runs Kahn's algorithm over the schedulable node set, with
// lexicographic tie-breaks for determinism.
func topoSort(nodes map[string]*models.Unit, deps map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for id := range nodes {
		count := 0
		for _, depID := range deps[id] {
			if _, ok := nodes[depID]; ok {
				count++
				dependents[depID] = append(dependents[depID], id)
			}
		}
		inDegree[id] = count
	}

	var queue []string
	for id := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []string
		for _, succ := range dependents[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newReady = append(newReady, succ)
			}
		}
		sort.Strings(newReady)
		queue = append(queue, newReady...)
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("topological sort failed: graph has a cycle (%d of %d units sorted)", len(order), len(nodes))
	}
	return order, nil
}
