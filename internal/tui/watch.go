// Package tui provides the read-only watch view over the coordination
// directory. It polls the aggregator on a fixed interval and never
// mutates any file.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ralphloop/ralph/internal/coord"
	"github.com/ralphloop/ralph/internal/models"
)

// RefreshInterval is how often the watch view re-reads the directory.
const RefreshInterval = 2 * time.Second

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	completeStyle   = lipgloss.NewStyle().Foreground(successColor)
	inProgressStyle = lipgloss.NewStyle().Foreground(warningColor)
	failedStyle     = lipgloss.NewStyle().Foreground(errorColor)
	pendingStyle    = lipgloss.NewStyle().Foreground(mutedColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// Watch is the polling status view model.
type Watch struct {
	service  *coord.Service
	snapshot *models.Snapshot
	spinner  spinner.Model
	err      error
	width    int
}

type tickMsg time.Time

type snapshotMsg struct {
	snapshot *models.Snapshot
	err      error
}

// NewWatch creates the watch model over a coordination service.
func NewWatch(service *coord.Service) *Watch {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return &Watch{service: service, spinner: sp}
}

// Run starts the watch view and blocks until the user quits.
func (w *Watch) Run() error {
	p := tea.NewProgram(w, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init starts the spinner, the first load, and the refresh tick.
func (w *Watch) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.load, tick())
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (w *Watch) load() tea.Msg {
	snapshot, err := w.service.Aggregate()
	return snapshotMsg{snapshot: snapshot, err: err}
}

// Update handles key, tick, and snapshot messages.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return w, tea.Quit
		case "r":
			return w, w.load
		}
	case tea.WindowSizeMsg:
		w.width = msg.Width
	case tickMsg:
		return w, tea.Batch(w.load, tick())
	case snapshotMsg:
		w.snapshot = msg.snapshot
		w.err = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd
	}
	return w, nil
}

// View renders the snapshot.
func (w *Watch) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ralph watch"))
	b.WriteString("\n\n")

	if w.err != nil {
		b.WriteString(failedStyle.Render(fmt.Sprintf("error: %v", w.err)))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("r: refresh  q: quit"))
		return b.String()
	}
	if w.snapshot == nil {
		b.WriteString(w.spinner.View() + " loading...")
		return b.String()
	}

	snap := w.snapshot
	header := fmt.Sprintf("Task: %s\nIteration: %d%s\nWorkers: %d  Monitors: %d",
		snap.Task, snap.Iteration, maxIterationsSuffix(snap.MaxIterations),
		len(snap.Workers), len(snap.Monitors))
	b.WriteString(panelStyle.Render(header))
	b.WriteString("\n\n")

	for _, id := range sortedStepIDs(snap) {
		step := snap.Steps[id]
		b.WriteString("  " + renderStep(step) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(renderValidation(snap))
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("r: refresh  q: quit"))
	return b.String()
}

func sortedStepIDs(snap *models.Snapshot) []string {
	ids := make([]string, 0, len(snap.Steps))
	ids = append(ids, snap.InProgress...)
	ids = append(ids, snap.Pending...)
	ids = append(ids, snap.Failed...)
	ids = append(ids, snap.Complete...)
	return ids
}

func renderStep(step models.Step) string {
	line := fmt.Sprintf("%-12s %s", step.Status, step.ID)
	if step.Owner != "" {
		line += "  (" + step.Owner + ")"
	}
	switch step.Status {
	case models.StepStatusComplete:
		return completeStyle.Render(line)
	case models.StepStatusInProgress:
		return inProgressStyle.Render(line)
	case models.StepStatusFailed:
		return failedStyle.Render(line)
	default:
		return pendingStyle.Render(line)
	}
}

func renderValidation(snap *models.Snapshot) string {
	if snap.LastValidation == nil {
		return pendingStyle.Render("no validation recorded yet")
	}
	rec := snap.LastValidation
	status := failedStyle.Render("incomplete")
	if rec.OverallComplete {
		status = completeStyle.Render("complete")
	}
	cont := "can continue"
	if !snap.CanContinue {
		cont = "cannot continue"
	}
	return fmt.Sprintf("validation %d by %s: %s (%s)", rec.Iteration, rec.MonitorID, status, cont)
}

func maxIterationsSuffix(max *int) string {
	if max == nil {
		return ""
	}
	return fmt.Sprintf(" / %d", *max)
}
