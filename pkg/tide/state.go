package tide

import "sync/atomic"

// State is the lifecycle stage of one call.
type State int32

const (
	StateCreated State = iota
	StatePoolReady
	StateDispatching
	StateDraining        // fail-all triggered
	StateShortCircuiting // early-return triggered
	StateCompleted
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePoolReady:
		return "pool-ready"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateShortCircuiting:
		return "short-circuiting"
	case StateCompleted:
		return "completed"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// stateMachine only moves forward. Draining, ShortCircuiting and
// Completed are mutually exclusive; TornDown is terminal.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves to next if that is a legal transition and reports
// whether it did.
func (m *stateMachine) advance(next State) bool {
	for {
		cur := State(m.v.Load())
		if !legal(cur, next) {
			return false
		}
		if m.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func legal(from, to State) bool {
	switch to {
	case StatePoolReady:
		return from == StateCreated
	case StateDispatching:
		return from == StatePoolReady
	case StateDraining, StateShortCircuiting, StateCompleted:
		return from == StateDispatching
	case StateTornDown:
		return from != StateTornDown
	default:
		return false
	}
}
