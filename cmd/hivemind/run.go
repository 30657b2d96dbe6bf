package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/atriumhq/hivemind/internal/advisor"
	"github.com/atriumhq/hivemind/internal/board"
	"github.com/atriumhq/hivemind/internal/config"
	"github.com/atriumhq/hivemind/internal/decompose"
	"github.com/atriumhq/hivemind/internal/engine"
	"github.com/atriumhq/hivemind/internal/history"
	"github.com/atriumhq/hivemind/internal/sched"
	"github.com/atriumhq/hivemind/internal/tui"
	"github.com/atriumhq/hivemind/pkg/models"
)

var (
	runAgents       int
	runCapabilities []string
	runHourScale    time.Duration
	runUseTUI       bool
	runMaxWait      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <backlog.yaml>",
	Short: "Drive a simulated agent pool over a backlog",
	Long: `Run loads the backlog into the engine and spawns a pool of simulated
agents that request, work, and complete units. Each estimated hour is
compressed to a short wall-clock slice so a full backlog plays out in
seconds.

The backlog file is watched while the run is live: appending tasks to it
feeds them into the running graph without a restart.

Agent count defaults to the critical-path recommendation.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runAgents, "agents", 0, "Agent pool size (0 = critical-path recommendation)")
	runCmd.Flags().StringSliceVar(&runCapabilities, "capability", nil, "Capability labels every agent advertises")
	runCmd.Flags().DurationVar(&runHourScale, "hour", 500*time.Millisecond, "Simulated wall time per estimated hour")
	runCmd.Flags().BoolVar(&runUseTUI, "tui", false, "Show the live board instead of streaming events")
	runCmd.Flags().DurationVar(&runMaxWait, "max-wait", 2*time.Second, "Cap on the wait between empty scheduling responses")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	eng, store, cleanup, err := buildEngine(cfg, cwd)
	if err != nil {
		return err
	}
	defer cleanup()

	backlogPath := args[0]
	tasks, err := loadBacklog(backlogPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	n, err := eng.LoadTasks(ctx, tasks)
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}

	agents := runAgents
	if agents <= 0 {
		agents = 1
		if snap := eng.Snapshot(); snap != nil && snap.OptimalAgents > 0 {
			agents = snap.OptimalAgents
		}
	}

	fmt.Printf("loaded %d schedulable units, running %d agents\n", n, agents)

	watcher, err := watchBacklog(ctx, eng, backlogPath)
	if err != nil {
		// The watch is a convenience; a run without hot reload is still a run.
		fmt.Fprintf(os.Stderr, "backlog watch disabled: %v\n", err)
	} else {
		defer watcher.Close()
	}

	pool := &agentPool{
		eng:          eng,
		store:        store,
		capabilities: runCapabilities,
		hourScale:    runHourScale,
		maxWait:      runMaxWait,
	}

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		agentID := fmt.Sprintf("agent-%02d", i+1)
		go func() {
			defer wg.Done()
			pool.loop(ctx, agentID)
		}()
	}

	// Sweep expired leases so reclaim shows up as an event even when no
	// agent is asking for work.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.Reclaim()
			}
		}
	}()

	if runUseTUI {
		p := tea.NewProgram(tui.New(eng, cfg.TUI.RefreshRate), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("tui: %w", err)
		}
		cancel()
	} else {
		// A stalled pool emits no run-done event; unblock the stream when
		// the last agent gives up.
		go func() {
			wg.Wait()
			cancel()
		}()
		streamEvents(ctx, eng)
	}

	wg.Wait()
	printRunSummary(eng)
	if eng.Stalled() {
		return fmt.Errorf("run stalled: blocked units need 'retry' or a fixed backlog")
	}
	return nil
}

// buildEngine wires board, history, and planner collaborators per config.
// The returned cleanup closes whatever was opened, in reverse order.
func buildEngine(cfg *config.Config, cwd string) (*engine.Engine, *history.Store, func(), error) {
	logger := engine.NewDebugLoggerForDir(cwd)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSchedConfig(sched.Config{
			LeaseTTL: cfg.Lease.TTL,
			TieBreak: sched.TieBreak(cfg.Scheduler.TieBreak),
		}),
		engine.WithDecomposeConfig(decompose.Config{
			SizeThresholdHours: cfg.Decompose.SizeThresholdHours,
			KeywordMinimum:     cfg.Decompose.KeywordMinimum,
			PlannerTimeout:     cfg.Decompose.PlannerTimeout,
			IntegrationHours:   cfg.Decompose.IntegrationHours,
		}),
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if !cfg.Board.Disabled {
		path := cfg.Board.Path
		if path == "" {
			path = board.ProjectDBPath(cwd)
		}
		b, err := board.Open(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open board: %w", err)
		}
		closers = append(closers, func() { b.Close() })
		opts = append(opts, engine.WithBoard(b))
	}

	var store *history.Store
	if !cfg.History.Disabled {
		path := cfg.History.Path
		if path == "" {
			path = history.ProjectDBPath(cwd)
		}
		s, err := history.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("open history: %w", err)
		}
		store = s
		closers = append(closers, func() { s.Close() })
		opts = append(opts, engine.WithHistory(s))
	}

	if cfg.Anthropic.APIKey != "" || cfg.Anthropic.UseAWSBedrock {
		planner, err := advisor.New(advisor.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("create planner: %w", err)
		}
		planner.SetDebugLog(logger.Log)
		opts = append(opts, engine.WithPlanner(planner))
	}

	eng := engine.New(opts...)
	cleanup := func() {
		eng.Close()
		closeAll()
	}
	return eng, store, cleanup, nil
}

// watchBacklog feeds appended backlog tasks into the running engine.
// Already-known unit IDs are skipped, so re-saving the file is harmless.
func watchBacklog(ctx context.Context, eng *engine.Engine, path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				tasks, err := loadBacklog(path)
				if err != nil {
					continue
				}
				var fresh []*models.Unit
				for _, t := range tasks {
					if eng.Get(t.ID) == nil {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					continue
				}
				if n, err := eng.LoadTasks(ctx, fresh); err == nil {
					fmt.Printf("backlog reloaded: %d new units\n", n)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher, nil
}

// agentPool holds the shared knobs for the simulated workers.
type agentPool struct {
	eng          *engine.Engine
	store        *history.Store
	capabilities []string
	hourScale    time.Duration
	maxWait      time.Duration
}

// loop is one simulated agent: request, work, report, repeat until the
// run finishes or nothing further can be scheduled.
func (p *agentPool) loop(ctx context.Context, agentID string) {
	for {
		if ctx.Err() != nil || p.eng.Finished() || p.eng.Stalled() {
			return
		}

		assignment, err := p.eng.RequestNextUnit(agentID, p.capabilities)
		if err != nil {
			noUnit, ok := engine.ErrNoUnit(err)
			if !ok {
				return
			}
			if p.store != nil {
				p.store.ObserveEmptyPool()
			}
			wait := noUnit.Wait
			if wait <= 0 || wait > p.maxWait {
				wait = p.maxWait
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		p.work(ctx, assignment)
	}
}

// work simulates executing one unit: half the scaled duration, a progress
// report, the other half, then completion.
func (p *agentPool) work(ctx context.Context, a *engine.Assignment) {
	duration := time.Duration(a.Unit.EstimatedHours * float64(p.hourScale))
	if duration <= 0 {
		duration = p.hourScale
	}

	half := duration / 2
	select {
	case <-ctx.Done():
		return
	case <-time.After(half):
	}
	if err := p.eng.ReportProgress(a.Lease.ID, 50); err != nil {
		// Lease lapsed; the unit goes back to the pool on its own.
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(duration - half):
	}
	_ = p.eng.ReportOutcome(a.Lease.ID, models.OutcomeCompleted, "")
}

// streamEvents prints engine events until the run completes or the
// stream closes.
func streamEvents(ctx context.Context, eng *engine.Engine) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	faint := color.New(color.Faint)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eng.Events():
			if !ok {
				return
			}
			stamp := ev.Timestamp.Format("15:04:05")
			switch ev.Type {
			case engine.EventUnitCompleted, engine.EventParentCompleted:
				green.Printf("%s %-16s %s\n", stamp, ev.Type, ev.UnitName)
			case engine.EventUnitBlocked, engine.EventParentBlocked:
				red.Printf("%s %-16s %s: %s\n", stamp, ev.Type, ev.UnitName, ev.Message)
			case engine.EventLeaseReclaimed:
				yellow.Printf("%s %-16s %s\n", stamp, ev.Type, ev.UnitID)
			case engine.EventRunDone:
				green.Printf("%s %-16s %s\n", stamp, ev.Type, ev.Message)
				return
			default:
				line := fmt.Sprintf("%s %-16s %s", stamp, ev.Type, ev.UnitName)
				if ev.AgentID != "" {
					line += " (" + ev.AgentID + ")"
				}
				faint.Println(line)
			}
		}
	}
}

func printRunSummary(eng *engine.Engine) {
	counts := eng.StatusCounts()
	var parts []string
	for _, status := range []models.UnitStatus{
		models.StatusDone, models.StatusBlocked, models.StatusReady,
		models.StatusTodo, models.StatusLeased, models.StatusInProgress,
	} {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
		}
	}
	fmt.Printf("run finished: %s\n", strings.Join(parts, ", "))
}
