// Package tui provides a Bubble Tea dashboard for provisioning runs.
package tui

import "github.com/strandtools/strand/internal/provisioning"

// EventMsg wraps one structured provisioning event.
type EventMsg struct {
	Event provisioning.Event
}

// LineMsg carries one plain log line.
type LineMsg struct {
	Line string
}

// ProgressMsg reports x-of-y progress within a phase.
type ProgressMsg struct {
	Phase   string
	Current int
	Total   int
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// DoneMsg signals that the run finished. Err carries the run's error,
// if any, to the final model.
type DoneMsg struct {
	Err error
}
