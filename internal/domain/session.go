package domain

import (
	"fmt"
	"time"
)

// Target identifies a PLC CPU on the network.
type Target struct {
	Host string
	Rack int
	Slot int
}

func (t Target) String() string {
	return fmt.Sprintf("%s (rack %d, slot %d)", t.Host, t.Rack, t.Slot)
}

// SessionState is the lifecycle state of the PLC session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText lets the state serialize as its name.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *SessionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// SessionStatus is a point-in-time snapshot of the session.
type SessionStatus struct {
	Connected bool         `json:"connected"`
	Host      string       `json:"ip"`
	Rack      int          `json:"rack"`
	Slot      int          `json:"slot"`
	LastError string       `json:"last_error"`
	State     SessionState `json:"state"`
}

// Session event kinds.
const (
	EventState = "state"
	EventWrite = "write"
)

// SessionEvent reports a session state change or a completed write.
type SessionEvent struct {
	Kind   string         `json:"kind"`
	Status *SessionStatus `json:"status,omitempty"`
	Access string         `json:"access,omitempty"`
	Time   time.Time      `json:"time"`
}
