package rendezvous

// State is the phase of a room attempt.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateWaitingForPeer
	StateNegotiating
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateWaitingForPeer:
		return "waiting-for-peer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the client's state at one point in time.
type Snapshot struct {
	State State
	Room  string

	// Initiator is set once a role was taken for the current peer.
	Initiator bool

	// Err is why the client is in StateError, or why it last fell back to
	// StateWaitingForPeer.
	Err error
}

// Change is passed to the state listener on every transition.
type Change struct {
	From State
	Snapshot
}
