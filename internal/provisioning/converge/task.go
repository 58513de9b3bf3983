// Package converge implements the idempotent step engine that brings one
// node's live state into agreement with its declared specification.
//
// A step inspects current state through a Runner (usually an SSH session to
// the node), performs the minimal action needed to converge, and reports a
// TaskResult. Steps are chained by guards: a later step can be declared to
// run only when an earlier step reported a change, or only when a capability
// probe found its tool present. Running a fully-converged list again is a
// no-op with every result unchanged.
package converge

import (
	"context"
	"fmt"
	"strings"
)

// Output is what a remote command produced. A non-zero exit code is not an
// error at this layer; probes rely on exit codes to read state.
type Output struct {
	Stdout   string
	ExitCode int
}

// Runner executes a shell command on one node. The returned error means the
// transport failed (dial, session, timeout), never that the command exited
// non-zero.
type Runner interface {
	Run(ctx context.Context, command string) (Output, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, command string) (Output, error)

func (f RunnerFunc) Run(ctx context.Context, command string) (Output, error) {
	return f(ctx, command)
}

// Status classifies what a step did. Commands report these three outcomes
// distinctly and never collapse them into a single success bit; Skipped
// covers steps whose guard held them back.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusChanged   Status = "changed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Capability is the tri-state outcome of a probe step.
type Capability string

const (
	CapabilityAvailable   Capability = "available"
	CapabilityUnavailable Capability = "unavailable"
	CapabilityUnknown     Capability = ""
)

// TaskResult is the outcome of one step on one node.
type TaskResult struct {
	Step       string
	Status     Status
	Changed    bool
	Capability Capability // set by probe steps only
	Detail     string     // short human-readable note
	Err        error
}

// Unchanged builds a result for a target already in the desired state.
func Unchanged(step, detail string) TaskResult {
	return TaskResult{Step: step, Status: StatusUnchanged, Detail: detail}
}

// Changed builds a result for a performed action.
func Changed(step, detail string) TaskResult {
	return TaskResult{Step: step, Status: StatusChanged, Changed: true, Detail: detail}
}

// Failed builds a result for a step that could not converge.
func Failed(step string, err error) TaskResult {
	return TaskResult{Step: step, Status: StatusFailed, Err: err}
}

// Probed builds a result for a capability probe. A probe never mutates.
func Probed(step string, cap Capability, detail string) TaskResult {
	return TaskResult{Step: step, Status: StatusUnchanged, Capability: cap, Detail: detail}
}

// Step is one idempotent unit within a node's task list.
type Step struct {
	// Name identifies the step within its list; guards reference it.
	Name string

	// When decides whether the step runs, based on prior results.
	// A nil guard always runs.
	When Guard

	// Run inspects state and converges. It returns an error only when the
	// node's remaining steps must not run: transport failures and
	// unresolvable conflicts. Expected no-ops are results, not errors.
	Run func(ctx context.Context, r Runner) (TaskResult, error)
}

// Guard decides whether a step runs. The reason is reported when it does not.
type Guard func(rs *ResultSet) (run bool, reason string)

// IfChanged gates a step on an earlier step having performed an action.
func IfChanged(step string) Guard {
	return func(rs *ResultSet) (bool, string) {
		r, ok := rs.Get(step)
		if !ok {
			return false, fmt.Sprintf("%s did not run", step)
		}
		if !r.Changed {
			return false, fmt.Sprintf("%s reported no change", step)
		}
		return true, ""
	}
}

// IfAvailable gates a step on a capability probe having found its tool.
func IfAvailable(probe string) Guard {
	return func(rs *ResultSet) (bool, string) {
		r, ok := rs.Get(probe)
		if !ok {
			return false, fmt.Sprintf("%s did not run", probe)
		}
		if r.Capability != CapabilityAvailable {
			return false, fmt.Sprintf("capability %s unavailable", probe)
		}
		return true, ""
	}
}

// ResultSet accumulates TaskResults for one node in execution order.
type ResultSet struct {
	order   []string
	results map[string]TaskResult
}

func NewResultSet() *ResultSet {
	return &ResultSet{results: make(map[string]TaskResult)}
}

func (rs *ResultSet) add(r TaskResult) {
	if _, exists := rs.results[r.Step]; !exists {
		rs.order = append(rs.order, r.Step)
	}
	rs.results[r.Step] = r
}

// Get returns the result of a named step, if it ran.
func (rs *ResultSet) Get(step string) (TaskResult, bool) {
	r, ok := rs.results[step]
	return r, ok
}

// All returns every result in execution order.
func (rs *ResultSet) All() []TaskResult {
	out := make([]TaskResult, 0, len(rs.order))
	for _, name := range rs.order {
		out = append(out, rs.results[name])
	}
	return out
}

// AnyChanged reports whether any step performed an action.
func (rs *ResultSet) AnyChanged() bool {
	for _, r := range rs.results {
		if r.Changed {
			return true
		}
	}
	return false
}

// Summary renders a compact per-step status line, for logs and reports.
func (rs *ResultSet) Summary() string {
	parts := make([]string, 0, len(rs.order))
	for _, r := range rs.All() {
		parts = append(parts, fmt.Sprintf("%s=%s", r.Step, r.Status))
	}
	return strings.Join(parts, " ")
}

// Quote wraps s in single quotes for safe interpolation into a shell
// command, escaping embedded single quotes. Every step builder quotes its
// arguments with this before composing a command line.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
