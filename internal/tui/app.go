// Package tui provides the terminal board view for a running engine.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atriumhq/hivemind/internal/engine"
	"github.com/atriumhq/hivemind/pkg/models"
)

// maxEventLines is how many recent events the footer keeps.
const maxEventLines = 8

// engineEventMsg wraps an engine event for bubbletea.
type engineEventMsg engine.Event

// eventsClosedMsg signals that the engine's event stream ended.
type eventsClosedMsg struct{}

// tickMsg drives the periodic board refresh.
type tickMsg time.Time

// App is the bubbletea model for the live board view.
type App struct {
	eng     *engine.Engine
	refresh time.Duration

	spinner spinner.Model
	events  []string
	width   int
	height  int
	done    bool
	closed  bool
}

// New creates the board view over a running engine.
func New(eng *engine.Engine, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return &App{
		eng:     eng,
		refresh: refresh,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitEvent(), a.tick())
}

func (a *App) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.eng.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return engineEventMsg(ev)
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case engineEventMsg:
		a.pushEvent(engine.Event(msg))
		if msg.Type == engine.EventRunDone {
			a.done = true
		}
		return a, a.waitEvent()

	case eventsClosedMsg:
		a.closed = true
		return a, nil

	case tickMsg:
		return a, a.tick()
	}

	return a, nil
}

func (a *App) pushEvent(ev engine.Event) {
	line := fmt.Sprintf("%s %-16s %s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.UnitName)
	if ev.Message != "" {
		line += " — " + ev.Message
	}
	a.events = append(a.events, line)
	if len(a.events) > maxEventLines {
		a.events = a.events[len(a.events)-maxEventLines:]
	}
}

// View implements tea.Model.
func (a *App) View() string {
	var sections []string
	sections = append(sections, a.header())
	sections = append(sections, a.board())
	sections = append(sections, a.footer())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) header() string {
	title := titleStyle.Render("hivemind")

	var stats string
	if snap := a.eng.Snapshot(); snap != nil {
		stats = statStyle.Render(fmt.Sprintf(
			"critical path %.1fh · total work %.1fh · optimal agents %d",
			snap.CriticalPathHours, snap.TotalWorkHours, snap.OptimalAgents))
	}

	state := a.spinner.View() + " working"
	if a.done {
		state = doneStyle.Render("✓ all units done")
	} else if a.closed {
		state = statStyle.Render("engine stopped")
	}

	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", stats, "  ", state)
}

// boardColumns defines the column order of the view. Leased and
// in-progress share one column.
var boardColumns = []struct {
	label    string
	statuses []models.UnitStatus
}{
	{"Todo", []models.UnitStatus{models.StatusTodo}},
	{"Ready", []models.UnitStatus{models.StatusReady}},
	{"Working", []models.UnitStatus{models.StatusLeased, models.StatusInProgress}},
	{"Blocked", []models.UnitStatus{models.StatusBlocked}},
	{"Done", []models.UnitStatus{models.StatusDone}},
}

func (a *App) board() string {
	units := a.eng.Units()
	byStatus := make(map[models.UnitStatus][]*models.Unit)
	for _, u := range units {
		byStatus[u.Status] = append(byStatus[u.Status], u)
	}

	colWidth := 24
	if a.width > 0 {
		if w := a.width/len(boardColumns) - 2; w > 12 {
			colWidth = w
		}
	}

	var cols []string
	for _, col := range boardColumns {
		var lines []string
		count := 0
		for _, status := range col.statuses {
			for _, u := range byStatus[status] {
				count++
				lines = append(lines, renderCard(u, colWidth-2))
			}
		}
		header := columnHeaderStyle.Render(fmt.Sprintf("%s (%d)", col.label, count))
		body := lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, lines...)...)
		cols = append(cols, columnStyle.Width(colWidth).Render(body))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func renderCard(u *models.Unit, width int) string {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	if len(name) > width && width > 1 {
		name = name[:width-1] + "…"
	}

	switch {
	case u.Decomposed():
		return parentCardStyle.Render(fmt.Sprintf("%s %3.0f%%", name, u.Progress))
	case u.Status == models.StatusBlocked:
		return blockedCardStyle.Render(name)
	case u.Status == models.StatusInProgress:
		return fmt.Sprintf("%s %3.0f%%", name, u.Progress)
	default:
		return name
	}
}

func (a *App) footer() string {
	var lines []string
	for _, ev := range a.events {
		lines = append(lines, eventStyle.Render(ev))
	}
	lines = append(lines, helpStyle.Render("q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
