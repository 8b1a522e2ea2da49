// Package tui provides the terminal progress panel for gemini-cli: a
// live view of the workflow phase, settled tool results, and errors,
// fed by the coordinator's result listener and the state manager's
// context listener.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/datanger/gemini-cli/pkg/models"
)

// ResultMsg is sent when a tool invocation settles.
type ResultMsg struct {
	SessionID string
	Result    models.ExecutionResult
}

// ContextMsg is sent when the workflow context changes.
type ContextMsg struct {
	Context *models.WorkflowContext
}

// DoneMsg signals that orchestration has completed.
type DoneMsg struct {
	Success bool
	Message string
}

// resultEntry is one settled result displayed in the results list.
type resultEntry struct {
	Timestamp time.Time
	Tool      string
	Success   bool
	Detail    string
}

// App is the main bubbletea model for the progress panel.
type App struct {
	// wctx is the latest workflow context snapshot.
	wctx *models.WorkflowContext
	// results holds settled results, newest last.
	results []resultEntry
	// spin animates while work is in flight.
	spin spinner.Model
	// width is the terminal width.
	width int
	// height is the terminal height.
	height int
	// quitting indicates the panel is shutting down.
	quitting bool
	// done indicates orchestration completed.
	done bool
	// doneSuccess indicates whether it completed successfully.
	doneSuccess bool
	// doneMessage holds the final message.
	doneMessage string
}

// New creates a new App instance.
func New() *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return &App{
		spin:    s,
		results: make([]resultEntry, 0),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spin.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case ResultMsg:
		a.appendResult(msg)

	case ContextMsg:
		a.wctx = msg.Context

	case DoneMsg:
		a.done = true
		a.doneSuccess = msg.Success
		a.doneMessage = msg.Message

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", a.viewHeader(), a.viewResults(), a.viewFooter())
}

// viewHeader renders the phase progress bar.
func (a *App) viewHeader() string {
	if a.wctx == nil {
		return a.spin.View() + " waiting for workflow..."
	}

	phases := []models.WorkflowPhase{
		models.PhaseSearch, models.PhaseRead, models.PhaseModify, models.PhaseVerify,
	}
	var header string
	for _, p := range phases {
		header += renderPhase(p, a.wctx) + " "
	}
	if a.wctx.Active {
		header = a.spin.View() + " " + header
	}
	return header
}

// viewResults renders the most recent settled results (up to 15).
func (a *App) viewResults() string {
	if len(a.results) == 0 {
		return "No results yet"
	}

	start := 0
	if len(a.results) > 15 {
		start = len(a.results) - 15
	}

	var view string
	for _, entry := range a.results[start:] {
		ts := entry.Timestamp.Format("15:04:05")
		mark := okStyle.Render("ok")
		if !entry.Success {
			mark = failStyle.Render("fail")
		}
		view += fmt.Sprintf("  %s %-4s %-18s %s\n", ts, mark, entry.Tool, entry.Detail)
	}
	return view
}

// viewFooter renders the footer with help text.
func (a *App) viewFooter() string {
	if a.done {
		if a.doneSuccess {
			return okStyle.Render("✓ "+a.doneMessage) + " | Press q to exit"
		}
		return failStyle.Render("✗ "+a.doneMessage) + " | Press q to exit"
	}
	return "Press q to quit"
}

// appendResult adds a settled result to the list.
func (a *App) appendResult(msg ResultMsg) {
	detail := ""
	if !msg.Result.Success {
		detail = msg.Result.Error
	} else if msg.Result.RetryCount > 0 {
		detail = fmt.Sprintf("after %d retries", msg.Result.RetryCount)
	}
	a.results = append(a.results, resultEntry{
		Timestamp: time.Now(),
		Tool:      msg.Result.Tool,
		Success:   msg.Result.Success,
		Detail:    detail,
	})
}

// Run starts the progress panel and blocks until it exits.
func Run() error {
	app := New()
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// NewProgram creates a Bubbletea program that can receive messages via
// Send() from the coordinator's and state manager's listeners.
func NewProgram() (*tea.Program, *App) {
	app := New()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
