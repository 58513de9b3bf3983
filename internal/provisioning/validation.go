package provisioning

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a preflight validation error or warning.
type ValidationError struct {
	Field    string // Configuration field that failed validation
	Message  string // Human-readable error message
	Severity string // "error" or "warning"
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ve.Severity, ve.Field, ve.Message)
}

// IsError returns true if this is an error (not a warning).
func (ve ValidationError) IsError() bool {
	return ve.Severity == "error"
}

// ValidationPhase implements the Phase interface for pre-flight checks.
// The config was already validated on load; this phase checks the things
// load cannot see: key files on disk, credentials in the environment,
// and soft misconfigurations worth a warning.
type ValidationPhase struct{}

// NewValidationPhase creates a new validation phase.
func NewValidationPhase() *ValidationPhase {
	return &ValidationPhase{}
}

// Name implements the Phase interface.
func (vp *ValidationPhase) Name() string {
	return "validation"
}

// Provision implements the Phase interface.
func (vp *ValidationPhase) Provision(ctx *Context) error {
	ctx.Observer.Printf("[Validation] Running pre-flight validation...")

	all := preflight(ctx)

	var errors []ValidationError
	for _, ve := range all {
		if ve.IsError() {
			errors = append(errors, ve)
			continue
		}
		ctx.Observer.Event(Event{
			Type:    EventValidationWarning,
			Phase:   vp.Name(),
			Message: ve.Message,
			Fields:  map[string]string{"field": ve.Field},
		})
	}

	if len(errors) > 0 {
		msgs := make([]string, 0, len(errors))
		for _, e := range errors {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("preflight validation failed:\n  %s", strings.Join(msgs, "\n  "))
	}

	ctx.Observer.Printf("[Validation] Validation passed")
	return nil
}

// preflight runs all checks and returns any errors or warnings.
func preflight(ctx *Context) []ValidationError {
	var errs []ValidationError
	cfg := ctx.Config

	// The loaded config may have been built in code; re-check it.
	if err := cfg.Validate(); err != nil {
		errs = append(errs, ValidationError{
			Field:    "config",
			Message:  err.Error(),
			Severity: "error",
		})
		return errs
	}

	// --- SSH key material ---

	for _, path := range []string{cfg.SSH.PrivateKeyPath, cfg.SSH.PublicKeyPath} {
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, ValidationError{
				Field:    "SSH",
				Message:  fmt.Sprintf("key file %s is not readable: %v (run 'strand config init' to generate a pair)", path, err),
				Severity: "error",
			})
		}
	}

	// --- Object store credentials ---

	if cfg.ObjectStore != nil {
		for _, envName := range []string{cfg.ObjectStore.AccessKeyEnv, cfg.ObjectStore.SecretKeyEnv} {
			if os.Getenv(envName) == "" {
				errs = append(errs, ValidationError{
					Field:    "ObjectStore",
					Message:  fmt.Sprintf("environment variable %s is not set", envName),
					Severity: "error",
				})
			}
		}
	}

	// --- Soft warnings ---

	if cfg.Compute.Count == 0 {
		errs = append(errs, ValidationError{
			Field:    "Compute.Count",
			Message:  "no compute nodes declared; only the head node will be provisioned",
			Severity: "warning",
		})
	}

	if cfg.Volume.SizeGB < 50 {
		errs = append(errs, ValidationError{
			Field:    "Volume.SizeGB",
			Message:  fmt.Sprintf("%dGB leaves little room for shared data", cfg.Volume.SizeGB),
			Severity: "warning",
		})
	}

	if cfg.Scratch != nil && cfg.Scratch.NodeCount < 3 {
		errs = append(errs, ValidationError{
			Field:    "Scratch.NodeCount",
			Message:  "a scratch stack with fewer than 3 nodes gives little aggregate bandwidth",
			Severity: "warning",
		})
	}

	return errs
}
