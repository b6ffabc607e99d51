package application

// ConnectionState is the observed lifecycle state of the broker session.
type ConnectionState uint8

const (
	// StateNotConnected is the initial state. It is never re-entered once left.
	StateNotConnected ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
