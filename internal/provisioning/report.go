package provisioning

import (
	"fmt"
	"strings"
	"sync"

	"github.com/strandtools/strand/internal/provisioning/converge"
)

// Status is the final per-resource outcome of a lifecycle command.
// Already-satisfied, converged-with-changes, and failed stay distinct;
// they are never collapsed into a single success bit.
type Status string

const (
	// StatusSatisfied means the resource was already in the desired state.
	StatusSatisfied Status = "satisfied"
	// StatusConverged means changes were applied to reach the desired state.
	StatusConverged Status = "converged"
	// StatusAbsent means the resource did not exist, so there was nothing
	// to release.
	StatusAbsent Status = "absent"
	// StatusFailed means the resource could not be converged or released.
	StatusFailed Status = "failed"
)

// Entry is one resource's outcome.
type Entry struct {
	Kind   string // "node", "server", "volume", "network", "firewall", "ssh-key", "stack"
	Name   string
	Status Status
	Detail string
	Err    error
}

// Report accumulates per-resource outcomes. Phases and per-node
// goroutines append concurrently.
type Report struct {
	mu      sync.Mutex
	entries []Entry
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add records one resource outcome.
func (r *Report) Add(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of all recorded outcomes in arrival order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// HasFailures reports whether any resource failed.
func (r *Report) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Failures returns the failed entries only.
func (r *Report) Failures() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []Entry
	for _, entry := range r.entries {
		if entry.Status == StatusFailed {
			failed = append(failed, entry)
		}
	}
	return failed
}

// Render formats the report as aligned text lines for command output.
func (r *Report) Render() string {
	entries := r.Entries()
	if len(entries) == 0 {
		return "no resources touched"
	}

	nameWidth := 0
	for _, entry := range entries {
		if n := len(entry.Kind) + 1 + len(entry.Name); n > nameWidth {
			nameWidth = n
		}
	}

	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "%-*s  %-9s", nameWidth, entry.Kind+"/"+entry.Name, entry.Status)
		if entry.Detail != "" {
			fmt.Fprintf(&b, "  %s", entry.Detail)
		}
		if entry.Err != nil {
			fmt.Fprintf(&b, "  (%v)", entry.Err)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatusFromResults condenses one node's step results into its final
// status and a short detail line.
func StatusFromResults(rs *converge.ResultSet) (Status, string) {
	for _, result := range rs.All() {
		if result.Status == converge.StatusFailed {
			return StatusFailed, fmt.Sprintf("step %s failed", result.Step)
		}
	}
	if rs.AnyChanged() {
		return StatusConverged, rs.Summary()
	}
	return StatusSatisfied, "already in desired state"
}
