package hcloud

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// CleanupError accumulates errors from a cleanup sweep. Cleanup keeps
// going past individual failures so one stuck resource does not strand
// everything behind it.
type CleanupError struct {
	Errors []error
}

func (e *CleanupError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("cleanup encountered %d errors: %v", len(e.Errors), e.Errors)
}

func (e *CleanupError) Unwrap() error {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return errors.Join(e.Errors...)
}

func (e *CleanupError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *CleanupError) HasErrors() bool {
	return len(e.Errors) > 0
}

// resource constrains the types cleanup can sweep.
type resource interface {
	*hcloud.Server | *hcloud.Volume | *hcloud.Firewall | *hcloud.Network | *hcloud.SSHKey
}

type resourceInfo struct {
	Name string
	ID   int64
}

func getResourceInfo[T resource](r T) resourceInfo {
	switch v := any(r).(type) {
	case *hcloud.Server:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.Volume:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.Firewall:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.Network:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.SSHKey:
		return resourceInfo{Name: v.Name, ID: v.ID}
	default:
		return resourceInfo{}
	}
}

// deleteResourcesByLabel lists and deletes one resource type, collecting
// per-resource failures.
func deleteResourcesByLabel[T resource](
	ctx context.Context,
	resourceType string,
	listFn func(context.Context) ([]T, error),
	deleteFn func(context.Context, T) error,
) error {
	resources, err := listFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", resourceType, err)
	}

	var deleteErrs []error
	for _, r := range resources {
		info := getResourceInfo(r)
		log.Printf("[Cleanup] Deleting %s: %s (ID: %d)", resourceType, info.Name, info.ID)
		if err := deleteFn(ctx, r); err != nil {
			log.Printf("[Cleanup] Warning: Failed to delete %s %s: %v", resourceType, info.Name, err)
			deleteErrs = append(deleteErrs, fmt.Errorf("%s %q: %w", resourceType, info.Name, err))
		}
	}

	if len(deleteErrs) > 0 {
		return errors.Join(deleteErrs...)
	}
	return nil
}

// CleanupByLabel deletes every resource carrying the label set, in
// dependency order: servers first (they hold volume attachments and
// network memberships), then volumes, firewalls, networks, SSH keys.
// All types are attempted even when earlier ones fail; the returned
// CleanupError carries everything that went wrong.
func (c *RealClient) CleanupByLabel(ctx context.Context, labels map[string]string) error {
	labelString := buildLabelSelector(labels)
	log.Printf("[Cleanup] Starting cleanup for resources with labels: %v", labels)

	cleanupErrs := &CleanupError{}

	if err := c.deleteServersByLabel(ctx, labelString); err != nil {
		log.Printf("[Cleanup] Warning: Failed to delete servers: %v", err)
		cleanupErrs.Add(fmt.Errorf("servers: %w", err))
	}

	if err := c.deleteVolumesByLabel(ctx, labelString); err != nil {
		log.Printf("[Cleanup] Warning: Failed to delete volumes: %v", err)
		cleanupErrs.Add(fmt.Errorf("volumes: %w", err))
	}

	if err := c.deleteFirewallsByLabel(ctx, labelString); err != nil {
		log.Printf("[Cleanup] Warning: Failed to delete firewalls: %v", err)
		cleanupErrs.Add(fmt.Errorf("firewalls: %w", err))
	}

	if err := deleteResourcesByLabel(ctx, "network",
		func(ctx context.Context) ([]*hcloud.Network, error) {
			return c.client.Network.AllWithOpts(ctx, hcloud.NetworkListOpts{
				ListOpts: hcloud.ListOpts{LabelSelector: labelString},
			})
		},
		func(ctx context.Context, n *hcloud.Network) error {
			_, err := c.client.Network.Delete(ctx, n)
			return err
		},
	); err != nil {
		log.Printf("[Cleanup] Warning: Failed to delete networks: %v", err)
		cleanupErrs.Add(fmt.Errorf("networks: %w", err))
	}

	if err := deleteResourcesByLabel(ctx, "SSH key",
		func(ctx context.Context) ([]*hcloud.SSHKey, error) {
			return c.client.SSHKey.AllWithOpts(ctx, hcloud.SSHKeyListOpts{
				ListOpts: hcloud.ListOpts{LabelSelector: labelString},
			})
		},
		func(ctx context.Context, k *hcloud.SSHKey) error {
			_, err := c.client.SSHKey.Delete(ctx, k)
			return err
		},
	); err != nil {
		log.Printf("[Cleanup] Warning: Failed to delete SSH keys: %v", err)
		cleanupErrs.Add(fmt.Errorf("SSH keys: %w", err))
	}

	if cleanupErrs.HasErrors() {
		log.Printf("[Cleanup] Cleanup completed with %d errors", len(cleanupErrs.Errors))
		return cleanupErrs
	}

	log.Printf("[Cleanup] Cleanup complete")
	return nil
}

// buildLabelSelector converts a label map to the API's selector string.
func buildLabelSelector(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	selector := ""
	for k, v := range labels {
		if selector != "" {
			selector += ","
		}
		selector += fmt.Sprintf("%s=%s", k, v)
	}
	return selector
}

// deleteServersByLabel deletes all matching servers and waits for them
// to disappear, since volumes and networks cannot be deleted while
// servers still reference them.
func (c *RealClient) deleteServersByLabel(ctx context.Context, labelSelector string) error {
	servers, err := c.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: labelSelector},
	})
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	for _, s := range servers {
		log.Printf("[Cleanup] Deleting server: %s (ID: %d)", s.Name, s.ID)
		if _, _, err := c.client.Server.DeleteWithResult(ctx, s); err != nil {
			log.Printf("[Cleanup] Warning: Failed to delete server %s: %v", s.Name, err)
		}
	}

	if len(servers) > 0 {
		log.Printf("[Cleanup] Waiting for %d servers to be fully deleted...", len(servers))
		for i := 0; i < 60; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			remaining, err := c.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
				ListOpts: hcloud.ListOpts{LabelSelector: labelSelector},
			})
			if err != nil {
				log.Printf("[Cleanup] Warning: Failed to check remaining servers: %v", err)
				break
			}
			if len(remaining) == 0 {
				log.Printf("[Cleanup] All servers deleted successfully")
				break
			}
			time.Sleep(5 * time.Second)
		}
	}

	return nil
}

// deleteVolumesByLabel detaches and deletes all matching volumes.
func (c *RealClient) deleteVolumesByLabel(ctx context.Context, labelSelector string) error {
	return deleteResourcesByLabel(ctx, "volume",
		func(ctx context.Context) ([]*hcloud.Volume, error) {
			return c.client.Volume.AllWithOpts(ctx, hcloud.VolumeListOpts{
				ListOpts: hcloud.ListOpts{LabelSelector: labelSelector},
			})
		},
		func(ctx context.Context, v *hcloud.Volume) error {
			if err := c.DetachVolume(ctx, v); err != nil {
				return err
			}
			_, err := c.client.Volume.Delete(ctx, v)
			return err
		},
	)
}

// deleteFirewallsByLabel deletes matching firewalls, waiting out the
// window where they are still applied to servers being deleted.
func (c *RealClient) deleteFirewallsByLabel(ctx context.Context, labelSelector string) error {
	firewalls, err := c.client.Firewall.AllWithOpts(ctx, hcloud.FirewallListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: labelSelector},
	})
	if err != nil {
		return fmt.Errorf("failed to list firewalls: %w", err)
	}

	for _, fw := range firewalls {
		log.Printf("[Cleanup] Deleting firewall: %s (ID: %d)", fw.Name, fw.ID)

		for i := 0; i < 30; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			_, err := c.client.Firewall.Delete(ctx, fw)
			if err == nil {
				break
			}

			if hcloud.IsError(err, hcloud.ErrorCodeResourceInUse) {
				if i < 29 {
					log.Printf("[Cleanup] Firewall %s still in use, waiting...", fw.Name)
					time.Sleep(5 * time.Second)
					continue
				}
			}

			log.Printf("[Cleanup] Warning: Failed to delete firewall %s: %v", fw.Name, err)
			break
		}
	}

	return nil
}
