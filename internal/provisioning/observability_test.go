package provisioning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/strand/internal/provisioning/converge"
)

func TestConsoleObserverFormatEvent(t *testing.T) {
	t.Parallel()
	o := NewConsoleObserver()

	msg := o.formatEvent(Event{
		Type:     EventResourceCreated,
		Phase:    "infrastructure",
		Resource: "strand-net",
		Message:  "network created",
		Fields:   map[string]string{"id": "42"},
	})

	assert.Contains(t, msg, "resource.created")
	assert.Contains(t, msg, "[infrastructure]")
	assert.Contains(t, msg, "resource=strand-net")
	assert.Contains(t, msg, "network created")
	assert.Contains(t, msg, "id=42")
}

func TestConsoleObserverWithFields(t *testing.T) {
	t.Parallel()
	o := NewConsoleObserver()

	scoped, ok := o.WithFields(map[string]string{"cluster": "alpha"}).(*ConsoleObserver)
	require.True(t, ok)

	assert.Equal(t, "alpha", scoped.contextFields["cluster"])
	assert.Empty(t, o.contextFields, "parent observer is not mutated")

	nested, ok := scoped.WithFields(map[string]string{"node": "strand-head"}).(*ConsoleObserver)
	require.True(t, ok)
	assert.Equal(t, "alpha", nested.contextFields["cluster"])
	assert.Equal(t, "strand-head", nested.contextFields["node"])
}

func TestLogPhaseHelpers(t *testing.T) {
	t.Parallel()
	observer := NewMockObserver()

	LogPhaseStart(observer, "compute")
	LogPhaseComplete(observer, "compute", 1500*time.Millisecond)
	LogPhaseFailed(observer, "bootstrap", errors.New("unreachable"))

	events := observer.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventPhaseStarted, events[0].Type)
	assert.Equal(t, "compute", events[0].Phase)
	assert.Contains(t, events[1].Message, "completed in 1.5s")
	assert.Equal(t, EventPhaseFailed, events[2].Type)
	assert.Contains(t, events[2].Message, "unreachable")
}

func TestLogResourceHelpers(t *testing.T) {
	t.Parallel()
	observer := NewMockObserver()

	LogResourceCreating(observer, "infrastructure", "network", "strand-net")
	LogResourceCreated(observer, "infrastructure", "network", "strand-net", "42")
	LogResourceExists(observer, "infrastructure", "firewall", "strand-fw", "7")
	LogResourceDeleting(observer, "destroy", "server", "strand-head")
	LogResourceDeleted(observer, "destroy", "server", "strand-head")

	events := observer.Events()
	require.Len(t, events, 5)
	assert.Equal(t, EventResourceCreating, events[0].Type)
	assert.Equal(t, "42", events[1].Fields["id"])
	assert.Equal(t, EventResourceExists, events[2].Type)
	assert.Equal(t, "strand-head", events[3].Resource)
	assert.Equal(t, EventResourceDeleted, events[4].Type)
}

func TestLogStepResult(t *testing.T) {
	t.Parallel()
	observer := NewMockObserver()

	LogStepResult(observer, "bootstrap", "strand-head", converge.Changed("format-/dev/sdb", "formatted ext4"))

	events := observer.EventsOfType(EventStepResult)
	require.Len(t, events, 1)
	assert.Equal(t, "strand-head", events[0].Fields["node"])
	assert.Equal(t, "format-/dev/sdb", events[0].Fields["step"])
	assert.Equal(t, "changed", events[0].Fields["status"])
	assert.Contains(t, events[0].Message, "formatted ext4")
}

func TestConsoleObserverEventMergesContextFields(t *testing.T) {
	t.Parallel()
	o := NewConsoleObserver()
	scoped, ok := o.WithFields(map[string]string{"cluster": "alpha"}).(*ConsoleObserver)
	require.True(t, ok)

	// formatEvent sees the merged fields the same way Event does.
	event := Event{Type: EventProgress, Message: "halfway", Fields: map[string]string{"cluster": "alpha"}}
	msg := scoped.formatEvent(event)
	assert.Contains(t, msg, "cluster=alpha")
}
