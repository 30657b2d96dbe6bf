// Package cpm implements critical path analysis over the dependency graph.
package cpm

// Result holds the complete critical path analysis for one graph snapshot.
// Results are immutable once computed; the engine recomputes on every graph
// mutation instead of patching in place.
type Result struct {
	// Schedules maps unit ID to its computed schedule.
	Schedules map[string]*Schedule
	// CriticalPath lists the zero-slack unit IDs in topological order.
	CriticalPath []string
	// CriticalPathHours is the project duration lower bound: the maximum
	// earliest finish over all units.
	CriticalPathHours float64
	// Timeline samples concurrency at every unit boundary.
	Timeline []Sample
	// PeakParallelism is the maximum concurrency over the timeline.
	PeakParallelism int
	// OptimalAgents is the recommended agent pool size. Peak-provisioning
	// policy: idle agents during low-demand windows are accepted rather
	// than under-provisioning during peaks, so this equals PeakParallelism.
	OptimalAgents int
	// TotalWorkHours is the sum of all unit durations.
	TotalWorkHours float64
	// EfficiencyGain is (TotalWorkHours - CriticalPathHours) / TotalWorkHours:
	// the fraction of serial time saved by running at full parallelism.
	EfficiencyGain float64
	// TopoOrder is the topological order the passes ran in.
	TopoOrder []string
}

// Schedule holds the CPM quantities for a single unit.
type Schedule struct {
	UnitID string
	// EarliestStart and EarliestFinish come from the forward pass.
	EarliestStart, EarliestFinish float64
	// LatestStart and LatestFinish come from the backward pass.
	LatestStart, LatestFinish float64
	// Slack is LatestStart - EarliestStart; zero-slack units are critical.
	Slack    float64
	Critical bool
}

// Sample is one point on the parallelism timeline.
type Sample struct {
	// Hours is the sample time, measured from project start.
	Hours float64
	// Concurrency is the number of units u with
	// EarliestStart(u) <= t < EarliestFinish(u).
	Concurrency int
}
