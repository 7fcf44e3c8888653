package recognition

import "sync"

// State is the readiness of a Source.
type State int

const (
	StateNone State = iota
	StateLoading
	StateReady
	StateInRAM
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateInRAM:
		return "in_ram"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Usable reports whether a recognizer may be obtained in this state.
func (s State) Usable() bool {
	return s == StateReady || s == StateInRAM
}

// StateObserver holds the current State of a source and notifies a single
// subscriber of every change. A new subscriber immediately receives the
// current value.
type StateObserver struct {
	mu      sync.Mutex
	current State
	sub     func(State)
}

func NewStateObserver(initial State) *StateObserver {
	return &StateObserver{current: initial}
}

// Current returns the last posted state.
func (o *StateObserver) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Subscribe replaces any previous subscriber. fn is invoked with the current
// state before Subscribe returns.
func (o *StateObserver) Subscribe(fn func(State)) {
	o.mu.Lock()
	o.sub = fn
	current := o.current
	o.mu.Unlock()
	if fn != nil {
		fn(current)
	}
}

// Unsubscribe drops the subscriber; the state itself is retained.
func (o *StateObserver) Unsubscribe() {
	o.mu.Lock()
	o.sub = nil
	o.mu.Unlock()
}

// Post records a new state and notifies the subscriber. Only the owning
// source calls Post.
func (o *StateObserver) Post(s State) {
	o.mu.Lock()
	o.current = s
	fn := o.sub
	o.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
