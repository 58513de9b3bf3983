package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strandtools/strand/internal/provisioning"
)

// observer feeds a Bubble Tea program from the provisioning event
// stream. Send is safe from the goroutines phases spawn per node.
type observer struct {
	send func(tea.Msg)
}

// NewObserver returns a provisioning.Observer that forwards everything
// it sees to send, normally a program's Send method.
func NewObserver(send func(tea.Msg)) provisioning.Observer {
	return &observer{send: send}
}

// Printf implements the provisioning.Observer interface.
func (o *observer) Printf(format string, v ...interface{}) {
	o.send(LineMsg{Line: fmt.Sprintf(format, v...)})
}

// Event implements the provisioning.Observer interface.
func (o *observer) Event(event provisioning.Event) {
	o.send(EventMsg{Event: event})
}

// Progress implements the provisioning.Observer interface.
func (o *observer) Progress(phase string, current, total int) {
	o.send(ProgressMsg{Phase: phase, Current: current, Total: total})
}

// WithFields implements the provisioning.Observer interface. Scoping
// fields carry no extra display information, so the same observer is
// returned.
func (o *observer) WithFields(map[string]string) provisioning.Observer {
	return o
}
