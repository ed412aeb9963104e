package fsm

import "sync"

// Phase is the resolved high-level state of an assistant session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseSpeaking   Phase = "speaking"
)

// Activities are the independent things a session may be doing at once.
// A reply can still be spoken while the user starts a new activation, so
// the flags overlap; Phase resolves them into one value.
type Activities struct {
	Listening  bool
	Processing bool
	Speaking   bool
}

// Phase resolves overlapping activities with the priority
// Processing > Listening > Speaking > Idle.
func (a Activities) Phase() Phase {
	switch {
	case a.Processing:
		return PhaseProcessing
	case a.Listening:
		return PhaseListening
	case a.Speaking:
		return PhaseSpeaking
	default:
		return PhaseIdle
	}
}

// Machine tracks session activities.
type Machine struct {
	mu         sync.RWMutex
	activities Activities
}

// New creates an idle machine.
func New() *Machine {
	return &Machine{}
}

// Phase returns the current resolved phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activities.Phase()
}

// Activities returns the raw activity flags.
func (m *Machine) Activities() Activities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activities
}

// OnListenStart marks a recognition activation as running.
func (m *Machine) OnListenStart() Phase {
	return m.update(func(a *Activities) { a.Listening = true })
}

// OnListenStop ends the recognition activation.
func (m *Machine) OnListenStop() Phase {
	return m.update(func(a *Activities) { a.Listening = false })
}

// OnProcessingStart marks a model request in flight.
func (m *Machine) OnProcessingStart() Phase {
	return m.update(func(a *Activities) { a.Processing = true })
}

// OnProcessingEnd clears the in-flight request.
func (m *Machine) OnProcessingEnd() Phase {
	return m.update(func(a *Activities) { a.Processing = false })
}

// OnSpeakStart marks playback running.
func (m *Machine) OnSpeakStart() Phase {
	return m.update(func(a *Activities) { a.Speaking = true })
}

// OnSpeakStop ends playback.
func (m *Machine) OnSpeakStop() Phase {
	return m.update(func(a *Activities) { a.Speaking = false })
}

// Reset drops every activity.
func (m *Machine) Reset() {
	m.update(func(a *Activities) { *a = Activities{} })
}

func (m *Machine) update(fn func(*Activities)) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.activities)
	return m.activities.Phase()
}
