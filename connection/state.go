package connection

// State is the lifecycle state of a channel. The numeric values are stable
// because they feed the channel state gauge directly.
type State int

const (
	// StateDisconnected is the initial state before the first dial starts.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt is in progress. Requests are
	// queued up to the send queue bound.
	StateConnecting

	// StateConnected means frames flow and the heartbeat monitor runs.
	StateConnected

	// StateDegraded means the socket is up but liveness is suspect after
	// a missed heartbeat. Reads and writes still proceed.
	StateDegraded

	// StateReconnecting means the socket is torn down and the channel is
	// waiting out a backoff delay before the next dial.
	StateReconnecting

	// StateClosed is terminal: the handle was closed explicitly.
	StateClosed

	// StateFailed is terminal: the reconnect budget ran out.
	StateFailed
)

// String returns the lowercase state name used in logs, events, and health.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Usable reports whether the channel currently holds a live socket.
func (s State) Usable() bool {
	return s == StateConnected || s == StateDegraded
}
