package provisioning

import (
	"fmt"
	"sync"
)

// MockObserver records everything it is told for later assertions.
// Phases log from per-node goroutines, so it is safe for concurrent use.
type MockObserver struct {
	mu     sync.Mutex
	lines  []string
	events []Event
	fields map[string]string
}

// NewMockObserver creates an empty recording observer.
func NewMockObserver() *MockObserver {
	return &MockObserver{fields: make(map[string]string)}
}

// Printf implements the Observer interface.
func (o *MockObserver) Printf(format string, v ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, fmt.Sprintf(format, v...))
}

// Event implements the Observer interface.
func (o *MockObserver) Event(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

// Progress implements the Observer interface.
func (o *MockObserver) Progress(phase string, current, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, fmt.Sprintf("[%s] %d/%d", phase, current, total))
}

// WithFields implements the Observer interface. The mock keeps recording
// into the same buffers so tests see every event regardless of scoping.
func (o *MockObserver) WithFields(fields map[string]string) Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range fields {
		o.fields[k] = v
	}
	return o
}

// Lines returns the recorded Printf and Progress output.
func (o *MockObserver) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// Events returns the recorded structured events.
func (o *MockObserver) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

// EventsOfType filters recorded events by type.
func (o *MockObserver) EventsOfType(t EventType) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, event := range o.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}
