package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/strandtools/strand/internal/provisioning"
)

// Run drives a provisioning run behind the dashboard. The run function
// receives an observer wired to the program; its error is carried into
// the final model so the caller sees the same failure it would have
// seen without the dashboard.
func Run(m Model, run func(provisioning.Observer) error) error {
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		err := run(NewObserver(p.Send))
		p.Send(DoneMsg{Err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}

	fm := finalModel.(Model)
	return fm.Err
}

// Interactive reports whether stdout is a terminal worth drawing on.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
