// Package domain contains core business entities.
package domain

import (
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrNotConnected       = errors.New("not connected to PLC")
	ErrConnectionLost     = errors.New("connection to PLC lost")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// Read/Write errors.
var (
	ErrInvalidDataLength = errors.New("invalid data length")
	ErrInvalidDataType   = errors.New("invalid data type")
	ErrInvalidWriteValue = errors.New("invalid value for write operation")
)

// S7 (Siemens) specific errors.
var (
	ErrS7ConnectionFailed  = errors.New("s7: connection failed")
	ErrS7InvalidAddress    = errors.New("s7: invalid address format")
	ErrS7InvalidArea       = errors.New("s7: invalid memory area")
	ErrS7ReadFailed        = errors.New("s7: read operation failed")
	ErrS7WriteFailed       = errors.New("s7: write operation failed")
	ErrS7AddressOutOfRange = errors.New("s7: address out of range")
	ErrS7ObjectNotExist    = errors.New("s7: object does not exist")
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConnectError is returned when every connection attempt to the PLC failed.
type ConnectError struct {
	Target   Target
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("s7: connect to %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is reports ErrS7ConnectionFailed so callers can match the category.
func (e *ConnectError) Is(target error) bool {
	return target == ErrS7ConnectionFailed
}

// AddressError describes a malformed logical address. It is always raised
// before any request reaches the PLC.
type AddressError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *AddressError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrS7InvalidAddress, e.Reason)
	}
	return fmt.Sprintf("%v: %s %v: %s", ErrS7InvalidAddress, e.Field, e.Value, e.Reason)
}

func (e *AddressError) Is(target error) bool {
	return target == ErrS7InvalidAddress
}

// TransportError wraps a failure reported by the protocol engine while the
// session was connected.
type TransportError struct {
	Op     string // "read" or "write"
	Access string // e.g. DB1.DBD4
	Err    error
}

func (e *TransportError) Error() string {
	verb := "reading"
	if e.Op == OpWrite {
		verb = "writing"
	}
	return fmt.Sprintf("error %s %s: %v", verb, e.Access, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrS7ReadFailed:
		return e.Op == OpRead
	case ErrS7WriteFailed:
		return e.Op == OpWrite
	}
	return false
}

// Operation names used in errors, logs and metrics.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Error kinds as reported by ErrorKind.
const (
	KindConnect      = "connect"
	KindNotConnected = "not_connected"
	KindAddress      = "address"
	KindValue        = "value"
	KindTransport    = "transport"
	KindUnknown      = "unknown"
)

// ErrorKind classifies err into one of the Kind* constants.
func ErrorKind(err error) string {
	var (
		connectErr   *ConnectError
		addressErr   *AddressError
		transportErr *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connectErr):
		return KindConnect
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.As(err, &addressErr):
		return KindAddress
	case errors.Is(err, ErrInvalidWriteValue), errors.Is(err, ErrInvalidDataType):
		return KindValue
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}
