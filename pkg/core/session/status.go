package session

import "sync"

// Status is the conversational state of a call session. Exactly one value
// is active at a time; it is owned by the Controller and observed through
// the status callback.
type Status string

const (
	// StatusIdle is the initial and fully torn-down resting state.
	StatusIdle Status = "idle"
	// StatusConnecting covers microphone acquisition and the remote dial.
	StatusConnecting Status = "connecting"
	// StatusListening means the session is up and capturing caller speech.
	StatusListening Status = "listening"
	// StatusProcessing is the locally inferred "caller paused, model about
	// to respond" state. Advisory only; server signals override it.
	StatusProcessing Status = "processing"
	// StatusSpeaking means model audio is playing.
	StatusSpeaking Status = "speaking"
	// StatusError latches after a fatal connect or transport failure.
	StatusError Status = "error"
)

// String returns the status label.
func (s Status) String() string { return string(s) }

// statusMachine applies the transition rules and notifies on change.
// Once in StatusError, only StatusIdle and StatusConnecting are accepted;
// every other transition attempt is silently ignored so a dead session's
// pipeline cannot resurrect its indicator.
type statusMachine struct {
	mu       sync.Mutex
	current  Status
	onChange func(Status)
}

func newStatusMachine(onChange func(Status)) *statusMachine {
	return &statusMachine{current: StatusIdle, onChange: onChange}
}

// Get returns the current status.
func (m *statusMachine) Get() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set attempts a transition and reports whether it was applied. The change
// callback runs outside the lock.
func (m *statusMachine) Set(next Status) bool {
	m.mu.Lock()
	if m.current == next {
		m.mu.Unlock()
		return false
	}
	if m.current == StatusError && next != StatusIdle && next != StatusConnecting {
		m.mu.Unlock()
		return false
	}
	m.current = next
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(next)
	}
	return true
}
