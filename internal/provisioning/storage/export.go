package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandtools/strand/internal/provisioning/converge"
)

// ProbeExportCapability checks whether the export tooling is installed.
// Export capability is optional infrastructure: when the probe reports
// unavailable, the export step is skipped rather than failed.
func ProbeExportCapability() converge.Step {
	name := ProbeExportStepName

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			out, err := r.Run(ctx, "command -v exportfs")
			if err != nil {
				return converge.TaskResult{}, err
			}
			if out.ExitCode != 0 {
				return converge.Probed(name, converge.CapabilityUnavailable, "exportfs not installed"), nil
			}
			return converge.Probed(name, converge.CapabilityAvailable, strings.TrimSpace(out.Stdout)), nil
		},
	}
}

// ExportLine renders the /etc/exports entry for the grant.
func ExportLine(exp Export) string {
	entries := make([]string, 0, len(exp.Clients))
	for _, client := range exp.Clients {
		entries = append(entries, fmt.Sprintf("%s(%s)", client, exp.Options))
	}
	return exp.Path + " " + strings.Join(entries, " ")
}

// EnsureExported manages the export entry for the path. An entry already
// granting exactly the requested access is left alone; a differing entry
// for the same path is updated in place, never blown away and recreated.
func EnsureExported(exp Export) converge.Step {
	name := ExportStepName(exp.Path)
	desired := ExportLine(exp)
	probeCmd := fmt.Sprintf("grep -s -- %s /etc/exports", converge.Quote("^"+exp.Path+" "))

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			probe, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}

			if probe.ExitCode == 0 && strings.TrimSpace(probe.Stdout) == desired {
				return converge.Unchanged(name, "export entry present"), nil
			}

			if probe.ExitCode == 0 {
				update := fmt.Sprintf("sed -i 's#^%s .*#%s#' /etc/exports", exp.Path, desired)
				out, err := r.Run(ctx, update)
				if err != nil {
					return converge.TaskResult{}, err
				}
				if out.ExitCode != 0 {
					return converge.TaskResult{}, fmt.Errorf("updating export entry for %s failed: %s", exp.Path, strings.TrimSpace(out.Stdout))
				}
			} else {
				appendCmd := fmt.Sprintf("printf '%%s\\n' %s >> /etc/exports", converge.Quote(desired))
				out, err := r.Run(ctx, appendCmd)
				if err != nil {
					return converge.TaskResult{}, err
				}
				if out.ExitCode != 0 {
					return converge.TaskResult{}, fmt.Errorf("adding export entry for %s failed: %s", exp.Path, strings.TrimSpace(out.Stdout))
				}
			}

			apply, err := r.Run(ctx, "exportfs -ra")
			if err != nil {
				return converge.TaskResult{}, err
			}
			if apply.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("exportfs -ra failed: %s", strings.TrimSpace(apply.Stdout))
			}
			return converge.Changed(name, "export applied: "+desired), nil
		},
	}
}
