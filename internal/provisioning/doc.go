// Package provisioning provides shared types, interfaces, and orchestration
// for cluster provisioning.
//
// # Subpackages
//
//   - converge/: idempotent step engine and task results
//   - storage/: head node data volume (format, mount, ownership, export)
//   - remotefs/: compute node remote mounts
//   - infrastructure/: network, firewall, SSH key
//   - compute/: servers, the data volume, node addresses
//   - bootstrap/: node convergence and the export rendezvous
//   - destroy/: resource cleanup and teardown
//
// # Core Types
//
// Context carries configuration, state, the cloud client, the remote runner
// factory, and the observer. Phase defines a provisioning stage with Name()
// and Provision() methods. State accumulates results from each phase
// (network, nodes, volume, export grant) and the final Report.
package provisioning
