package session

import (
	"fmt"
	"time"
)

// ConnectionState is the lifecycle position of a Session
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateScanning
	StateConnecting
	StateConnected
	StateError
)

func (c ConnectionState) String() string {
	switch c {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(c))
	}
}

// State is a ConnectionState plus the reason carried by StateError
type State struct {
	Kind   ConnectionState
	Reason string
}

func (s State) String() string {
	if s.Kind == StateError && s.Reason != "" {
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	return s.Kind.String()
}

// StateChange is delivered to state listeners on every transition
type StateChange struct {
	Previous State
	Next     State

	// PeerInitiated is set on the Disconnected transition caused by the
	// peripheral or the OS dropping the link, as opposed to Disconnect().
	PeerInitiated bool

	// Err is the failure that caused a transition into StateError
	Err error
}

// Reading is one decoded sample from one channel
type Reading struct {
	Channel   string
	Values    []float64
	Timestamp time.Time
	Seq       uint64
}
