package converge

import (
	"context"
	"strings"
	"sync"
)

// RecordingRunner is a scripted Runner for tests. Handlers are matched
// against the command in registration order by substring; the first match
// responds. Unmatched commands succeed with exit 0 and no output. Every
// command is recorded, so tests can assert exactly which mutations ran.
//
// Safe for concurrent use; node bootstraps run in parallel.
type RecordingRunner struct {
	mu       sync.Mutex
	handlers []scriptHandler
	commands []string
}

type scriptHandler struct {
	substr  string
	respond func(command string) (Output, error)
}

// NewRecordingRunner returns an empty runner where every command succeeds.
func NewRecordingRunner() *RecordingRunner {
	return &RecordingRunner{}
}

// Handle registers a static response for commands containing substr.
func (r *RecordingRunner) Handle(substr string, out Output, err error) {
	r.HandleFunc(substr, func(string) (Output, error) {
		return out, err
	})
}

// HandleFunc registers a dynamic response for commands containing substr.
func (r *RecordingRunner) HandleFunc(substr string, respond func(command string) (Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, scriptHandler{substr: substr, respond: respond})
}

// Run implements Runner.
func (r *RecordingRunner) Run(_ context.Context, command string) (Output, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	handlers := make([]scriptHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(command, h.substr) {
			return h.respond(command)
		}
	}
	return Output{}, nil
}

// Commands returns every command seen so far, in order.
func (r *RecordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

// CommandsMatching returns the recorded commands containing substr.
func (r *RecordingRunner) CommandsMatching(substr string) []string {
	var out []string
	for _, c := range r.Commands() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the command record but keeps the handlers.
func (r *RecordingRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
