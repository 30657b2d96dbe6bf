package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atriumhq/hivemind/internal/cpm"
	"github.com/atriumhq/hivemind/internal/decompose"
	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/pkg/models"
)

var analyzeNoSplit bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <backlog.yaml>",
	Short: "Compute the critical path for a backlog",
	Long: `Analyze loads a backlog, decomposes oversized tasks with the
rule-based planner, and prints the critical path analysis: project
duration, slack per unit, the parallelism timeline, and the recommended
agent pool size.

Nothing is scheduled; analyze is a dry run over the plan.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoSplit, "no-split", false, "Analyze tasks as written, without decomposition")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tasks, err := loadBacklog(args[0])
	if err != nil {
		return err
	}

	units, err := planUnits(tasks, cfg.Decompose.SizeThresholdHours, cfg.Decompose.KeywordMinimum, cfg.Decompose.IntegrationHours)
	if err != nil {
		return err
	}

	g := graph.New()
	if err := g.AddUnits(units); err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	result, err := cpm.Analyze(g)
	if err != nil {
		return fmt.Errorf("analyze graph: %w", err)
	}

	printAnalysis(g, result)
	return nil
}

// planUnits expands the backlog the way a run would, using only the
// rule-based planner so the output is deterministic and offline.
func planUnits(tasks []*models.Unit, threshold float64, keywordMin int, integrationHours float64) ([]*models.Unit, error) {
	decompCfg := decompose.DefaultConfig()
	if threshold > 0 {
		decompCfg.SizeThresholdHours = threshold
	}
	if keywordMin > 0 {
		decompCfg.KeywordMinimum = keywordMin
	}
	if integrationHours > 0 {
		decompCfg.IntegrationHours = integrationHours
	}
	dec := decompose.New(decompCfg, nil)

	var units []*models.Unit
	for _, task := range tasks {
		if analyzeNoSplit || !dec.ShouldDecompose(task) {
			units = append(units, task)
			continue
		}
		d, err := dec.Decompose(context.Background(), task)
		if err != nil || d == nil {
			units = append(units, task)
			continue
		}
		ids := make([]string, 0, len(d.Subtasks))
		for _, sub := range d.Subtasks {
			ids = append(ids, sub.ID)
			sub.DependsOn = append(sub.DependsOn, task.DependsOn...)
		}
		task.Subtasks = ids
		units = append(units, task)
		units = append(units, d.Subtasks...)
	}
	return units, nil
}

func printAnalysis(g *graph.DependencyGraph, result *cpm.Result) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	bold.Println("Plan")
	fmt.Printf("  units            %d\n", len(result.Schedules))
	fmt.Printf("  total work       %.1fh\n", result.TotalWorkHours)
	cyan.Printf("  critical path    %.1fh\n", result.CriticalPathHours)
	fmt.Printf("  efficiency gain  %.0f%%\n", result.EfficiencyGain*100)
	green.Printf("  optimal agents   %d (peak parallelism %d)\n", result.OptimalAgents, result.PeakParallelism)
	fmt.Println()

	bold.Println("Critical path")
	names := make([]string, 0, len(result.CriticalPath))
	for _, id := range result.CriticalPath {
		if u := g.Get(id); u != nil {
			names = append(names, u.Name)
		} else {
			names = append(names, id)
		}
	}
	red.Printf("  %s\n", strings.Join(names, " -> "))
	fmt.Println()

	bold.Println("Schedule")
	ids := make([]string, 0, len(result.Schedules))
	for id := range result.Schedules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := result.Schedules[ids[i]], result.Schedules[ids[j]]
		if a.EarliestStart != b.EarliestStart {
			return a.EarliestStart < b.EarliestStart
		}
		return ids[i] < ids[j]
	})
	fmt.Printf("  %-32s %8s %8s %8s\n", "unit", "start", "finish", "slack")
	for _, id := range ids {
		s := result.Schedules[id]
		name := id
		if u := g.Get(id); u != nil && u.Name != "" {
			name = u.Name
		}
		if len(name) > 32 {
			name = name[:31] + "…"
		}
		line := fmt.Sprintf("  %-32s %7.1fh %7.1fh %7.1fh", name, s.EarliestStart, s.EarliestFinish, s.Slack)
		if s.Critical {
			red.Println(line)
		} else {
			fmt.Println(line)
		}
	}
	fmt.Println()

	bold.Println("Timeline")
	for _, sample := range result.Timeline {
		bar := strings.Repeat("█", sample.Concurrency)
		faint.Printf("  %6.1fh ", sample.Hours)
		fmt.Printf("%s %d\n", bar, sample.Concurrency)
	}
}
