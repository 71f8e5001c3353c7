package transport

// State is the connection lifecycle position. Transitions:
// Disconnected → Connecting → Connected; on loss Connected → Reconnecting →
// Connecting; past the retry cap any state → Failed (terminal).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
