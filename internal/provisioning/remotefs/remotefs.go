// Package remotefs builds the converge steps a compute node needs to
// consume filesystems served by other machines: the shared NFS export
// from the head node and, when enabled, the distributed scratch
// filesystem. Mount attempts against an export that is not reachable
// yet fail with an ordinary error so the call site's retry loop can
// back off and try again; the steps themselves never wait.
package remotefs

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/provisioning/storage"
	"github.com/strandtools/strand/internal/util/retry"
)

// Mount declares one remote filesystem a node should consume.
type Mount struct {
	// Source in the form accepted by mount for the filesystem type,
	// e.g. "10.0.0.2:/encrypted" for NFS or "10.0.1.5@tcp:/scratch"
	// for Lustre.
	Source     string
	Mountpoint string
	Type       string // defaults to "nfs"
	Options    string // defaults to "defaults"
}

func (m Mount) fstype() string {
	if m.Type == "" {
		return "nfs"
	}
	return m.Type
}

func (m Mount) options() string {
	if m.Options == "" {
		return "defaults"
	}
	return m.Options
}

// MountStepName returns the step name for the remote mount of mountpoint.
func MountStepName(mountpoint string) string { return "remote-mount:" + mountpoint }

// VerifyStepName is the step name of the final mount re-assertion.
const VerifyStepName = "verify-mounts"

// Plan returns the ordered step list that converges a compute node onto
// the given remote mounts: mountpoint directories first, then the mounts
// themselves, then one verification pass over everything in fstab.
func Plan(mounts []Mount) []converge.Step {
	steps := make([]converge.Step, 0, 2*len(mounts)+1)
	for _, m := range mounts {
		steps = append(steps, storage.EnsureDirectory(m.Mountpoint))
	}
	for _, m := range mounts {
		steps = append(steps, EnsureRemoteMounted(m))
	}
	steps = append(steps, VerifyAllMounted())
	return steps
}

// EnsureRemoteMounted mounts the remote source at the mountpoint and
// persists it to fstab. A mountpoint already served by the same source
// is left alone; one served by a different source is a fatal conflict.
// A failed mount attempt (typically: the server side is not exporting
// yet) returns a retryable error and leaves no half-applied state
// beyond the fstab entry, which is harmless to re-ensure.
func EnsureRemoteMounted(m Mount) converge.Step {
	name := MountStepName(m.Mountpoint)
	qmp := converge.Quote(m.Mountpoint)
	fstabLine := fmt.Sprintf("%s %s %s %s 0 0", m.Source, m.Mountpoint, m.fstype(), m.options())
	probeCmd := "findmnt -rn -o SOURCE --mountpoint " + qmp

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			probe, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if probe.ExitCode == 0 {
				source := strings.TrimSpace(probe.Stdout)
				if source != m.Source {
					return converge.TaskResult{}, retry.Fatal(fmt.Errorf("%s is mounted from %s, expected %s", m.Mountpoint, source, m.Source))
				}
				return converge.Unchanged(name, "already mounted"), nil
			}

			fstab := fmt.Sprintf("grep -qsF -- %s /etc/fstab || printf '%%s\\n' %s >> /etc/fstab",
				converge.Quote(fstabLine), converge.Quote(fstabLine))
			if _, err := r.Run(ctx, fstab); err != nil {
				return converge.TaskResult{}, err
			}

			mount, err := r.Run(ctx, fmt.Sprintf("mount -t %s -o %s %s %s",
				converge.Quote(m.fstype()), converge.Quote(m.options()), converge.Quote(m.Source), qmp))
			if err != nil {
				return converge.TaskResult{}, err
			}
			if mount.ExitCode != 0 {
				// The server may simply not be exporting yet; the
				// caller decides whether to back off and retry.
				return converge.TaskResult{}, fmt.Errorf("mount %s from %s failed: %s", m.Mountpoint, m.Source, strings.TrimSpace(mount.Stdout))
			}

			verify, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if verify.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("mounted %s but it did not appear in findmnt", m.Mountpoint)
			}
			return converge.Changed(name, "mounted from "+m.Source), nil
		},
	}
}

// UnmountStepName returns the step name for the removal of mountpoint.
func UnmountStepName(mountpoint string) string { return "remote-unmount:" + mountpoint }

// EnsureUnmounted unmounts the mountpoint and drops its fstab entry.
// The fstab line goes first so a reboot mid-step cannot resurrect the
// mount. A mountpoint that is neither mounted nor in fstab converges
// without change.
func EnsureUnmounted(mountpoint string) converge.Step {
	name := UnmountStepName(mountpoint)
	qmp := converge.Quote(mountpoint)
	probeCmd := "findmnt -rn -o SOURCE --mountpoint " + qmp
	fstabProbe := fmt.Sprintf("grep -qsF -- %s /etc/fstab", converge.Quote(" "+mountpoint+" "))
	fstabStrip := fmt.Sprintf("sed -i -e %s /etc/fstab", converge.Quote("\\# "+mountpoint+" #d"))

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			probe, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			mounted := probe.ExitCode == 0

			inFstab, err := r.Run(ctx, fstabProbe)
			if err != nil {
				return converge.TaskResult{}, err
			}

			if !mounted && inFstab.ExitCode != 0 {
				return converge.Unchanged(name, "not mounted"), nil
			}

			var actions []string
			if inFstab.ExitCode == 0 {
				if _, err := r.Run(ctx, fstabStrip); err != nil {
					return converge.TaskResult{}, err
				}
				actions = append(actions, "fstab entry removed")
			}
			if mounted {
				um, err := r.Run(ctx, "umount "+qmp)
				if err != nil {
					return converge.TaskResult{}, err
				}
				if um.ExitCode != 0 {
					return converge.TaskResult{}, fmt.Errorf("umount %s failed: %s", mountpoint, strings.TrimSpace(um.Stdout))
				}
				actions = append(actions, "unmounted")
			}
			return converge.Changed(name, strings.Join(actions, ", ")), nil
		},
	}
}

// VerifyAllMounted re-asserts every fstab entry. Recovers mounts lost to
// a reboot or a transient server outage between converge runs.
func VerifyAllMounted() converge.Step {
	return converge.Step{
		Name: VerifyStepName,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			out, err := r.Run(ctx, "mount -a")
			if err != nil {
				return converge.TaskResult{}, err
			}
			if out.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("mount -a failed: %s", strings.TrimSpace(out.Stdout))
			}
			return converge.Unchanged(VerifyStepName, "all fstab entries asserted"), nil
		},
	}
}
