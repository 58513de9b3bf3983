package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/ui/benchmarks"
)

// PhaseView tracks one provisioning phase for display.
type PhaseView struct {
	Name      string
	Active    bool
	Done      bool
	Failed    bool
	Detail    string
	StartedAt time.Time
	Duration  time.Duration
}

// ResourceView tracks one cloud resource row.
type ResourceView struct {
	Type   string
	Name   string
	Status string // creating, created, exists, deleting, deleted
}

// StepView is the latest converge step seen on one node.
type StepView struct {
	Step   string
	Status string
}

type progressView struct {
	current int
	total   int
}

// logTail bounds the plain-log section so it never crowds out the
// status sections above it.
const logTail = 6

// Model is the Bubble Tea model for the provisioning dashboard. It is
// fed exclusively by observer messages, so the same model works for
// create, bootstrap, scratch and teardown runs.
type Model struct {
	ClusterName string
	Location    string

	Phases    []PhaseView
	Resources []ResourceView
	NodeOrder []string
	NodeSteps map[string]StepView
	Progress  map[string]progressView
	State     string
	Warnings  []string
	Log       []string

	// ETA
	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width  int
	Height int
	Err    error
	Done   bool
}

// NewModel creates a dashboard model. phases pre-seeds the phase list
// in run order; phases announced by events but not listed here are
// appended as they start.
func NewModel(clusterName, location string, phases ...string) Model {
	m := Model{
		ClusterName:      clusterName,
		Location:         location,
		StartTime:        time.Now(),
		PerformanceScale: 1.0,
		NodeSteps:        make(map[string]StepView),
		Progress:         make(map[string]progressView),
	}
	for _, name := range phases {
		m.Phases = append(m.Phases, PhaseView{Name: name})
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case EventMsg:
		m.applyEvent(msg.Event)

	case LineMsg:
		m.Log = append(m.Log, msg.Line)
		if len(m.Log) > logTail {
			m.Log = m.Log[len(m.Log)-logTail:]
		}

	case ProgressMsg:
		m.Progress[msg.Phase] = progressView{current: msg.Current, total: msg.Total}

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case DoneMsg:
		m.Err = msg.Err
		m.Done = msg.Err == nil
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) applyEvent(event provisioning.Event) {
	switch event.Type {
	case provisioning.EventPhaseStarted:
		m.startPhase(event.Phase)
	case provisioning.EventPhaseCompleted:
		m.finishPhase(event.Phase, false, "")
	case provisioning.EventPhaseFailed:
		m.finishPhase(event.Phase, true, event.Message)
	case provisioning.EventResourceCreating:
		m.setResource(event.Fields["type"], event.Resource, "creating")
	case provisioning.EventResourceCreated:
		m.setResource(event.Fields["type"], event.Resource, "created")
	case provisioning.EventResourceExists:
		m.setResource(event.Fields["type"], event.Resource, "exists")
	case provisioning.EventResourceDeleting:
		m.setResource(event.Fields["type"], event.Resource, "deleting")
	case provisioning.EventResourceDeleted:
		m.setResource(event.Fields["type"], event.Resource, "deleted")
	case provisioning.EventStepResult:
		m.setStep(event.Fields["node"], event.Fields["step"], event.Fields["status"])
	case provisioning.EventStateChanged:
		m.State = event.Fields["to"]
	case provisioning.EventValidationWarning:
		m.Warnings = append(m.Warnings, event.Message)
	}
}

func (m *Model) startPhase(name string) {
	idx := m.phaseIndex(name)
	if idx < 0 {
		m.Phases = append(m.Phases, PhaseView{Name: name})
		idx = len(m.Phases) - 1
	}
	m.Phases[idx].Active = true
	m.Phases[idx].StartedAt = time.Now()
}

func (m *Model) finishPhase(name string, failed bool, detail string) {
	idx := m.phaseIndex(name)
	if idx < 0 {
		return
	}
	phase := &m.Phases[idx]
	phase.Active = false
	phase.Done = !failed
	phase.Failed = failed
	phase.Detail = detail
	if !phase.StartedAt.IsZero() {
		phase.Duration = time.Since(phase.StartedAt)
	}
}

func (m *Model) phaseIndex(name string) int {
	for i, phase := range m.Phases {
		if phase.Name == name {
			return i
		}
	}
	return -1
}

func (m *Model) setResource(resourceType, name, status string) {
	for i, res := range m.Resources {
		if res.Type == resourceType && res.Name == name {
			m.Resources[i].Status = status
			return
		}
	}
	m.Resources = append(m.Resources, ResourceView{Type: resourceType, Name: name, Status: status})
}

func (m *Model) setStep(node, step, status string) {
	if node == "" {
		return
	}
	if _, seen := m.NodeSteps[node]; !seen {
		m.NodeOrder = append(m.NodeOrder, node)
	}
	m.NodeSteps[node] = StepView{Step: step, Status: status}
}

func (m *Model) updateETA() {
	current := ""
	var elapsed time.Duration
	var completed []benchmarks.Record
	for _, phase := range m.Phases {
		switch {
		case phase.Active:
			current = phase.Name
			elapsed = time.Since(phase.StartedAt)
		case phase.Done:
			completed = append(completed, benchmarks.Record{Phase: phase.Name, Duration: phase.Duration})
		}
	}
	if current == "" {
		m.EstimatedRemaining = 0
		return
	}

	m.PerformanceScale = benchmarks.PerformanceScale(current, elapsed, completed)
	m.EstimatedRemaining = benchmarks.EstimateRemainingWithScale(current, elapsed, completed, m.PerformanceScale)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
