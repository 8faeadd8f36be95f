package remote

import "time"

// State represents the current state of the backend connection
type State int

const (
	// StateDisconnected indicates no connection attempt is in progress
	StateDisconnected State = iota
	// StateValidatingToken indicates the auth pre-flight check is running
	StateValidatingToken
	// StateSocketConnecting indicates the WebSocket dial is in progress
	StateSocketConnecting
	// StateConnected indicates the socket is open and usable
	StateConnected
	// StateReconnectPending indicates a backoff timer is waiting to retry
	StateReconnectPending
	// StateAuthFailed indicates a terminal auth failure; no retry is
	// scheduled until a fresh call observes a changed token
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateValidatingToken:
		return "validating_token"
	case StateSocketConnecting:
		return "socket_connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the connection state machine, delivered to the
// state callback on every transition and readable at any time via
// Conn.Status.
type Status struct {
	State State
	// Kind classifies the failure behind the state: KindNoToken or
	// KindAuthRejected for StateAuthFailed, KindNetworkUnreachable for
	// StateReconnectPending, empty otherwise
	Kind Kind
	// Attempt is the reconnect attempt counter; meaningful for
	// StateReconnectPending
	Attempt int
	// Delay is the backoff delay before the next attempt; meaningful for
	// StateReconnectPending
	Delay time.Duration
	// Message carries the rejection reason for StateAuthFailed
	Message string
}
