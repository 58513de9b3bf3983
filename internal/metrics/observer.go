package metrics

import (
	"sync"
	"time"

	"github.com/strandtools/strand/internal/provisioning"
)

// Observer decorates another provisioning.Observer and feeds every
// phase, step and lifecycle event it sees into the registry. All
// output is forwarded to the wrapped observer unchanged.
type Observer struct {
	next  provisioning.Observer
	spans *phaseSpans
}

// phaseSpans times phases from their started event. Phase events carry
// no machine-readable duration, so the decorator measures its own.
type phaseSpans struct {
	mu      sync.Mutex
	started map[string]time.Time
}

// Instrument wraps next so observed events also update metrics.
func Instrument(next provisioning.Observer) *Observer {
	return &Observer{
		next:  next,
		spans: &phaseSpans{started: make(map[string]time.Time)},
	}
}

// Printf forwards a plain log line.
func (o *Observer) Printf(format string, v ...interface{}) {
	o.next.Printf(format, v...)
}

// Progress forwards a progress update.
func (o *Observer) Progress(phase string, current, total int) {
	o.next.Progress(phase, current, total)
}

// WithFields scopes the wrapped observer. The returned observer keeps
// the same phase spans so a scoped completion still closes the span
// its start opened.
func (o *Observer) WithFields(fields map[string]string) provisioning.Observer {
	return &Observer{next: o.next.WithFields(fields), spans: o.spans}
}

// Event records the event's metrics and forwards it.
func (o *Observer) Event(event provisioning.Event) {
	switch event.Type {
	case provisioning.EventPhaseStarted:
		o.spans.start(event.Phase)
	case provisioning.EventPhaseCompleted:
		phaseTotal.WithLabelValues(event.Phase, "ok").Inc()
		o.spans.finish(event.Phase)
	case provisioning.EventPhaseFailed:
		phaseTotal.WithLabelValues(event.Phase, "failed").Inc()
		o.spans.finish(event.Phase)
	case provisioning.EventStepResult:
		stepsTotal.WithLabelValues(event.Phase, event.Fields["status"]).Inc()
	case provisioning.EventStateChanged:
		stateTransitionsTotal.WithLabelValues(event.Fields["from"], event.Fields["to"]).Inc()
	}
	o.next.Event(event)
}

func (s *phaseSpans) start(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[phase] = time.Now()
}

func (s *phaseSpans) finish(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	begin, ok := s.started[phase]
	if !ok {
		return
	}
	delete(s.started, phase)
	phaseDuration.WithLabelValues(phase).Observe(time.Since(begin).Seconds())
}
