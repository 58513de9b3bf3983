package naming

import "fmt"

// Naming functions for cluster resources.
// Every cloud resource a cluster owns is derived from the cluster name with a
// fixed suffix so info and teardown can find them without stored state.

func Network(cluster string) string {
	return fmt.Sprintf("%s-net", cluster)
}

func Firewall(cluster string) string {
	return fmt.Sprintf("%s-fw", cluster)
}

func SSHKey(cluster string) string {
	return fmt.Sprintf("%s-key", cluster)
}

func HeadNode(cluster string) string {
	return fmt.Sprintf("%s-head", cluster)
}

func ComputeNode(cluster string, index int) string {
	return fmt.Sprintf("%s-compute-%d", cluster, index)
}

func DataVolume(cluster string) string {
	return fmt.Sprintf("%s-data", cluster)
}

func ScratchNode(cluster string, index int) string {
	return fmt.Sprintf("%s-scratch-%d", cluster, index)
}

func ScratchVolume(cluster string, node, target int) string {
	return fmt.Sprintf("%s-scratch-%d-t%d", cluster, node, target)
}

// ScratchFs is the filesystem name nodes mount the scratch stack under.
func ScratchFs(cluster string) string {
	return fmt.Sprintf("%s-scratch", cluster)
}

// ManifestBucket is the object-store bucket holding stack manifests.
func ManifestBucket(cluster string) string {
	return fmt.Sprintf("%s-manifests", cluster)
}

// ManifestKey is the object key of the scratch stack manifest.
func ManifestKey(cluster string) string {
	return fmt.Sprintf("scratch/%s.yaml", cluster)
}
