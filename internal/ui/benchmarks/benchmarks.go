// Package benchmarks provides timing estimates for provisioning phases.
package benchmarks

import "time"

// DefaultTimings are median phase durations from full cluster runs
// (seconds).
var DefaultTimings = map[string]int{
	"validation":     5,
	"infrastructure": 45,
	"compute":        90,
	"bootstrap":      150,
	"scratch":        240,
	"stop":           60,
	"destroy":        90,
}

// PhaseOrder is the sequence create runs its phases in. Standalone
// commands (scratch, stop, destroy) run a single phase and are not
// part of the order.
var PhaseOrder = []string{
	"infrastructure",
	"compute",
	"bootstrap",
}

// Record is one completed phase with its measured duration.
type Record struct {
	Phase    string
	Duration time.Duration
}

// Expected returns the benchmark duration for a phase.
func Expected(phase string) (time.Duration, bool) {
	secs, ok := DefaultTimings[phase]
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// EstimateRemaining calculates the estimated time remaining based on
// the current phase, its elapsed time, and the completed phases so far.
func EstimateRemaining(currentPhase string, phaseElapsed time.Duration, completed []Record) time.Duration {
	return EstimateRemainingWithScale(currentPhase, phaseElapsed, completed, PerformanceScale(currentPhase, phaseElapsed, completed))
}

// EstimateRemainingWithScale calculates ETA while applying a
// performance scale factor.
func EstimateRemainingWithScale(
	currentPhase string,
	phaseElapsed time.Duration,
	completed []Record,
	scale float64,
) time.Duration {
	var remaining time.Duration

	// Current phase: max(0, expected - elapsed). Works for standalone
	// phases too, which have a timing but no successors in the order.
	if expected, ok := Expected(currentPhase); ok {
		expected = time.Duration(float64(expected) * scale)
		if expected > phaseElapsed {
			remaining += expected - phaseElapsed
		}
	}

	currentIdx := -1
	for i, p := range PhaseOrder {
		if p == currentPhase {
			currentIdx = i
			break
		}
	}
	if currentIdx < 0 {
		return remaining
	}

	done := make(map[string]bool)
	for _, rec := range completed {
		done[rec.Phase] = true
	}

	for i := currentIdx + 1; i < len(PhaseOrder); i++ {
		phase := PhaseOrder[i]
		if done[phase] {
			continue
		}
		if expected, ok := Expected(phase); ok {
			remaining += time.Duration(float64(expected) * scale)
		}
	}

	return remaining
}

// PerformanceScale derives a speed multiplier from observed-vs-expected
// durations. Example: expected 3m, observed 4m30s => scale=1.5 (future
// ETAs are stretched by 50%).
func PerformanceScale(currentPhase string, phaseElapsed time.Duration, completed []Record) float64 {
	var expectedTotal time.Duration
	var actualTotal time.Duration

	for _, rec := range completed {
		expected, ok := Expected(rec.Phase)
		if !ok {
			continue
		}
		expectedTotal += expected
		actualTotal += rec.Duration
	}

	// If the current phase is overrunning, fold it in immediately so
	// the ETA adapts quickly.
	if expected, ok := Expected(currentPhase); ok && phaseElapsed > expected {
		expectedTotal += expected
		actualTotal += phaseElapsed
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}

	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.6 {
		return 0.6
	}
	if scale > 3.0 {
		return 3.0
	}
	return scale
}

// TotalEstimate returns the total estimated duration of a create run.
func TotalEstimate() time.Duration {
	var total time.Duration
	for _, phase := range PhaseOrder {
		if expected, ok := Expected(phase); ok {
			total += expected
		}
	}
	return total
}
