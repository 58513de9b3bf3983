package hcloud

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/strandtools/strand/internal/util/retry"
)

// EnsureVolume returns the named volume, creating it if absent. The
// volume is created raw: formatting happens on the node, guarded by a
// filesystem signature probe, never here.
func (c *RealClient) EnsureVolume(ctx context.Context, name string, sizeGB int, location string, labels map[string]string) (*hcloud.Volume, error) {
	return (&EnsureOperation[*hcloud.Volume, hcloud.VolumeCreateOpts, any]{
		Name:         name,
		ResourceType: "volume",
		Get:          c.client.Volume.Get,
		Create: func(ctx context.Context, opts hcloud.VolumeCreateOpts) (*CreateResult[*hcloud.Volume], *hcloud.Response, error) {
			res, resp, err := c.client.Volume.Create(ctx, opts)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.Volume]{
				Resource: res.Volume,
				Action:   res.Action,
				Actions:  res.NextActions,
			}, resp, nil
		},
		Validate: func(volume *hcloud.Volume) error {
			if volume.Size < sizeGB {
				return fmt.Errorf("volume %s exists with size %dGB, want %dGB; shrinking or growing under a mounted filesystem is not supported",
					name, volume.Size, sizeGB)
			}
			if volume.Location != nil && volume.Location.Name != location {
				return fmt.Errorf("volume %s exists in location %s, want %s", name, volume.Location.Name, location)
			}
			return nil
		},
		CreateOptsMapper: func() hcloud.VolumeCreateOpts {
			return hcloud.VolumeCreateOpts{
				Name:     name,
				Size:     sizeGB,
				Location: &hcloud.Location{Name: location},
				Labels:   labels,
			}
		},
	}).Execute(ctx, c)
}

// AttachVolume attaches the volume to the server and returns the device
// path it appears under on the node. Already attached to that server is
// a no-op; attached to a different server is an error the operator has
// to resolve.
func (c *RealClient) AttachVolume(ctx context.Context, volume *hcloud.Volume, server *hcloud.Server) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.VolumeAttach)
	defer cancel()

	if volume.Server != nil {
		if volume.Server.ID == server.ID {
			return volume.LinuxDevice, nil
		}
		return "", fmt.Errorf("volume %s is attached to server %d, not %d", volume.Name, volume.Server.ID, server.ID)
	}

	err := retry.Do(ctx, func() error {
		action, _, err := c.client.Volume.AttachWithOpts(ctx, volume, hcloud.VolumeAttachOpts{
			Server:    server,
			Automount: hcloud.Ptr(false),
		})
		if err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(err)
		}
		return c.client.Action.WaitFor(ctx, action)
	}, retry.Attempts(c.timeouts.RetryMaxAttempts), retry.Delay(c.timeouts.RetryInitialDelay),
		c.notifyOption("volume attach"))
	if err != nil {
		return "", fmt.Errorf("failed to attach volume %s: %w", volume.Name, err)
	}

	return volume.LinuxDevice, nil
}

// DetachVolume detaches the volume from whatever server holds it.
// Detaching an unattached volume succeeds.
func (c *RealClient) DetachVolume(ctx context.Context, volume *hcloud.Volume) error {
	current, _, err := c.client.Volume.GetByID(ctx, volume.ID)
	if err != nil {
		return fmt.Errorf("failed to get volume: %w", err)
	}
	if current == nil || current.Server == nil {
		return nil
	}

	err = retry.Do(ctx, func() error {
		action, _, err := c.client.Volume.Detach(ctx, current)
		if err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(err)
		}
		return c.client.Action.WaitFor(ctx, action)
	}, retry.Attempts(c.timeouts.RetryMaxAttempts), retry.Delay(c.timeouts.RetryInitialDelay),
		c.notifyOption("volume detach"))
	if err != nil {
		return fmt.Errorf("failed to detach volume %s: %w", volume.Name, err)
	}
	return nil
}

// DeleteVolume deletes the volume with the given name.
func (c *RealClient) DeleteVolume(ctx context.Context, name string) error {
	return (&DeleteOperation[*hcloud.Volume]{
		Name:         name,
		ResourceType: "volume",
		Get:          c.client.Volume.Get,
		Delete:       c.client.Volume.Delete,
	}).Execute(ctx, c)
}

// GetVolumeByName returns the volume by name, or nil if not found.
func (c *RealClient) GetVolumeByName(ctx context.Context, name string) (*hcloud.Volume, error) {
	volume, _, err := c.client.Volume.Get(ctx, name)
	return volume, err
}
