// Package storage builds the head-node task list: prepare the shared data
// volume and export it to the compute subnet.
//
// Each constructor returns one idempotent converge.Step that probes live
// state before acting. The format step is the destructive one; its guard is
// the filesystem signature probe, so a device that already carries any
// recognized filesystem is never formatted again.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/util/retry"
)

// Volume describes the block device the head node serves from.
type Volume struct {
	Device     string
	Mountpoint string
	Filesystem string
	Options    string
}

// Export describes the NFS grant of the mounted volume.
type Export struct {
	Path    string
	Clients []string
	Options string
}

// Step name helpers. Guards reference steps by name, so the names are part
// of the package contract.
func DirectoryStepName(path string) string  { return "directory:" + path }
func FormatStepName(device string) string   { return "format:" + device }
func MountStepName(mountpoint string) string { return "mount:" + mountpoint }
func OwnershipStepName(path string) string  { return "ownership:" + path }
func ExportStepName(path string) string     { return "export:" + path }

// ProbeExportStepName is the capability probe consumed by the export guard.
const ProbeExportStepName = "probe-exportfs"

// Plan returns the ordered head-node task list. Ownership only runs after a
// fresh mount; the export only runs when the export tooling is present.
func Plan(vol Volume, exp Export, owner string) []converge.Step {
	chown := EnsureOwnership(vol.Mountpoint, owner)
	chown.When = converge.IfChanged(MountStepName(vol.Mountpoint))

	export := EnsureExported(exp)
	export.When = converge.IfAvailable(ProbeExportStepName)

	return []converge.Step{
		EnsureDirectory(vol.Mountpoint),
		FormatIfUnformatted(vol.Device, vol.Filesystem),
		EnsureMounted(vol),
		chown,
		ProbeExportCapability(),
		export,
	}
}

// EnsureDirectory creates path if absent. A path that exists as something
// other than a directory is an unresolvable conflict.
func EnsureDirectory(path string) converge.Step {
	name := DirectoryStepName(path)
	q := converge.Quote(path)

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			probe, err := r.Run(ctx, "test -d "+q)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if probe.ExitCode == 0 {
				return converge.Unchanged(name, "directory exists"), nil
			}

			exists, err := r.Run(ctx, "test -e "+q)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if exists.ExitCode == 0 {
				return converge.TaskResult{}, retry.Fatal(fmt.Errorf("%s exists but is not a directory", path))
			}

			made, err := r.Run(ctx, "mkdir -p "+q)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if made.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("mkdir %s failed: %s", path, strings.TrimSpace(made.Stdout))
			}
			return converge.Changed(name, "directory created"), nil
		},
	}
}

// FormatIfUnformatted formats the device only when it carries no filesystem
// signature. Any recognized existing filesystem, of any type, means no
// action: formatting is destructive and must never run twice on one device.
func FormatIfUnformatted(device, fstype string) converge.Step {
	name := FormatStepName(device)
	qdev := converge.Quote(device)
	probeCmd := "blkid -o value -s TYPE " + qdev

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			probe, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if sig := strings.TrimSpace(probe.Stdout); probe.ExitCode == 0 && sig != "" {
				return converge.Unchanged(name, "filesystem signature present: "+sig), nil
			}
			if probe.ExitCode != 0 && probe.ExitCode != 2 {
				// blkid exits 2 for a blank device; anything else means
				// the device itself is wrong.
				return converge.TaskResult{}, retry.Fatal(fmt.Errorf("cannot read %s: blkid exit %d", device, probe.ExitCode))
			}

			format, err := r.Run(ctx, fmt.Sprintf("mkfs -t %s -q %s", converge.Quote(fstype), qdev))
			if err != nil {
				return converge.TaskResult{}, err
			}
			if format.ExitCode != 0 {
				return converge.TaskResult{}, retry.Fatal(fmt.Errorf("mkfs %s on %s failed: %s", fstype, device, strings.TrimSpace(format.Stdout)))
			}

			verify, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if got := strings.TrimSpace(verify.Stdout); got != fstype {
				return converge.TaskResult{}, retry.Fatal(fmt.Errorf("formatted %s but signature reads %q", device, got))
			}
			return converge.Changed(name, "formatted "+fstype), nil
		},
	}
}

// EnsureMounted mounts the device at its mountpoint and persists the fstab
// entry. A foreign filesystem already mounted there is an unresolvable
// conflict, not something to unmount.
func EnsureMounted(vol Volume) converge.Step {
	name := MountStepName(vol.Mountpoint)
	qmp := converge.Quote(vol.Mountpoint)
	fstabLine := fmt.Sprintf("%s %s %s %s 0 2", vol.Device, vol.Mountpoint, vol.Filesystem, vol.Options)
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
				if source != vol.Device {
					return converge.TaskResult{}, retry.Fatal(fmt.Errorf("%s is mounted from %s, expected %s", vol.Mountpoint, source, vol.Device))
				}
				return converge.Unchanged(name, "already mounted"), nil
			}

			fstab := fmt.Sprintf("grep -qsF -- %s /etc/fstab || printf '%%s\\n' %s >> /etc/fstab",
				converge.Quote(fstabLine), converge.Quote(fstabLine))
			if _, err := r.Run(ctx, fstab); err != nil {
				return converge.TaskResult{}, err
			}

			mount, err := r.Run(ctx, fmt.Sprintf("mount -t %s -o %s %s %s",
				converge.Quote(vol.Filesystem), converge.Quote(vol.Options), converge.Quote(vol.Device), qmp))
			if err != nil {
				return converge.TaskResult{}, err
			}
			if mount.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("mount %s failed: %s", vol.Mountpoint, strings.TrimSpace(mount.Stdout))
			}

			verify, err := r.Run(ctx, probeCmd)
			if err != nil {
				return converge.TaskResult{}, err
			}
			if verify.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("mounted %s but it did not appear in findmnt", vol.Mountpoint)
			}
			return converge.Changed(name, "mounted"), nil
		},
	}
}

// EnsureOwnership recursively hands the path to the invoking user. This is
// not probed; callers gate it on the mount step's change so it only runs
// after a fresh mount rather than rewriting ownership on every pass.
func EnsureOwnership(path, owner string) converge.Step {
	name := OwnershipStepName(path)

	return converge.Step{
		Name: name,
		Run: func(ctx context.Context, r converge.Runner) (converge.TaskResult, error) {
			out, err := r.Run(ctx, fmt.Sprintf("chown -R -- %s:%s %s",
				converge.Quote(owner), converge.Quote(owner), converge.Quote(path)))
			if err != nil {
				return converge.TaskResult{}, err
			}
			if out.ExitCode != 0 {
				return converge.TaskResult{}, fmt.Errorf("chown %s failed: %s", path, strings.TrimSpace(out.Stdout))
			}
			return converge.Changed(name, "ownership set to "+owner), nil
		},
	}
}
