package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atriumhq/hivemind/internal/board"
	"github.com/atriumhq/hivemind/pkg/models"
)

var statusUnitID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the board from the last run",
	Long: `Status reads the project board database and prints every card
grouped by column. With --unit, prints that unit's transition history
instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusUnitID, "unit", "", "Show the transition log for one unit")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	path := cfg.Board.Path
	if path == "" {
		path = board.ProjectDBPath(cwd)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No board yet. Run 'hivemind run <backlog.yaml>' first.")
		return nil
	}

	b, err := board.Open(path)
	if err != nil {
		return fmt.Errorf("open board: %w", err)
	}
	defer b.Close()

	if statusUnitID != "" {
		return printTransitions(b, statusUnitID)
	}
	return printBoard(b)
}

var statusColumns = []models.UnitStatus{
	models.StatusTodo, models.StatusReady, models.StatusLeased,
	models.StatusInProgress, models.StatusBlocked, models.StatusDone,
}

func printBoard(b *board.Board) error {
	cards, err := b.Cards()
	if err != nil {
		return fmt.Errorf("read board: %w", err)
	}
	if len(cards) == 0 {
		fmt.Println("Board is empty.")
		return nil
	}

	byColumn := make(map[models.UnitStatus][]*board.Card)
	for _, c := range cards {
		byColumn[c.Column] = append(byColumn[c.Column], c)
	}

	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	for _, col := range statusColumns {
		cs := byColumn[col]
		if len(cs) == 0 {
			continue
		}
		bold.Printf("%s (%d)\n", col, len(cs))
		for _, c := range cs {
			line := fmt.Sprintf("  %-32s", c.Name)
			if c.Kind == models.KindSubtask {
				line = fmt.Sprintf("  - %-30s", c.Name)
			}
			line += fmt.Sprintf(" %3.0f%%  %.1fh", c.Progress, c.EstimatedHours)
			if c.BlockedReason != "" {
				red.Printf("%s  %s\n", line, c.BlockedReason)
				continue
			}
			fmt.Println(line)
		}
		fmt.Println()
	}
	faint.Printf("%d cards total\n", len(cards))
	return nil
}

func printTransitions(b *board.Board, unitID string) error {
	transitions, err := b.Transitions(unitID)
	if err != nil {
		return fmt.Errorf("read transitions: %w", err)
	}
	if len(transitions) == 0 {
		fmt.Printf("No transitions recorded for %s.\n", unitID)
		return nil
	}
	for _, tr := range transitions {
		fmt.Printf("%s  %s -> %s\n", tr.At.Local().Format("2006-01-02 15:04:05"), tr.From, tr.To)
	}
	return nil
}
