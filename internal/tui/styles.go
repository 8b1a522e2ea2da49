package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/datanger/gemini-cli/pkg/models"
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	phaseActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
	phaseDone = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Padding(0, 1)
	phasePending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)
)

// renderPhase styles one phase cell of the progress bar: done phases
// green, the active phase highlighted, unreached phases dim.
func renderPhase(p models.WorkflowPhase, ctx *models.WorkflowContext) string {
	name := string(p)
	if rec, ok := ctx.Records[p]; ok && rec != nil && rec.Sealed() {
		return phaseDone.Render(name)
	}
	if ctx.CurrentPhase == p {
		return phaseActive.Render(name)
	}
	return phasePending.Render(name)
}
