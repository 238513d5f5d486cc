package session

// State is the lifecycle position of a session.
type State int

const (
	// StatePreLogin is the initial state: only LOGIN is accepted.
	StatePreLogin State = iota
	// StateActive means the session is registered and may chat.
	StateActive
	// StateTerminated is final; the registry entry (if any) is gone.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePreLogin:
		return "PRE_LOGIN"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
