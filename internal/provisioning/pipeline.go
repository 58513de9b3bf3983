package provisioning

import (
	"fmt"
	"time"
)

// Phase defines the interface for a provisioning phase.
type Phase interface {
	// Name returns the human-readable name of this phase.
	Name() string

	// Provision executes the provisioning logic for this phase.
	Provision(ctx *Context) error
}

// PhaseFunc adapts a named function to the Phase interface.
type PhaseFunc struct {
	PhaseName string
	Fn        func(*Context) error
}

func (p PhaseFunc) Name() string                 { return p.PhaseName }
func (p PhaseFunc) Provision(ctx *Context) error { return p.Fn(ctx) }

// RunPhases executes all provisioning phases sequentially. A cancelled
// context stops the pipeline between phases; the failing phase's error
// is wrapped with its name.
func RunPhases(ctx *Context, phases []Phase) error {
	start := time.Now()
	ctx.Observer.Printf("Starting provisioning with %d phases...", len(phases))

	for i, phase := range phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("provisioning interrupted: %w", err)
		}

		phaseStart := time.Now()
		name := phase.Name()

		// Events carry the bare phase name; consumers key on it.
		ctx.Observer.Printf("Phase %d/%d: %s", i+1, len(phases), name)
		LogPhaseStart(ctx.Observer, name)

		if err := phase.Provision(ctx); err != nil {
			LogPhaseFailed(ctx.Observer, name, err)
			return fmt.Errorf("%s phase failed: %w", name, err)
		}

		LogPhaseComplete(ctx.Observer, name, time.Since(phaseStart))
	}

	ctx.Observer.Printf("Provisioning completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
