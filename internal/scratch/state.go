package scratch

import "fmt"

// StackState is the lifecycle state of a scratch stack, as recorded in
// its manifest.
type StackState string

const (
	// StackAbsent means no manifest exists.
	StackAbsent StackState = "absent"
	// StackCreating is set while servers and targets are being built.
	StackCreating StackState = "creating"
	// StackAvailable means the filesystem is served and may be mounted.
	StackAvailable StackState = "available"
	// StackMounted means cluster nodes have the filesystem mounted.
	StackMounted StackState = "mounted"
	// StackDestroying is set while the stack's resources are released.
	StackDestroying StackState = "destroying"
)

// stackTransitions lists the legal moves of the stack lifecycle. Every
// state change goes through Transition, so an operation arriving at the
// wrong moment fails instead of corrupting the manifest.
var stackTransitions = map[StackState][]StackState{
	StackAbsent:     {StackCreating},
	StackCreating:   {StackAvailable, StackDestroying},
	StackAvailable:  {StackMounted, StackDestroying},
	StackMounted:    {StackAvailable, StackDestroying},
	StackDestroying: {StackAbsent},
}

// CanTransition reports whether a stack may move between the two states.
func CanTransition(from, to StackState) bool {
	for _, next := range stackTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the manifest to the next state, rejecting moves the
// lifecycle does not allow.
func (m *Manifest) Transition(to StackState) error {
	if !CanTransition(m.State, to) {
		return fmt.Errorf("scratch stack cannot go from %s to %s", m.State, to)
	}
	m.State = to
	return nil
}
