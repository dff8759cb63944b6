// Package s7 manages the single Siemens S7 session of the bridge and the
// typed memory access built on top of it.
package s7

import (
	"sync"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// =============================================================================
// Protocol Engine
// =============================================================================

// Engine is the S7 protocol engine the session manager drives. It owns the
// wire protocol; implementations need not be safe for concurrent use, the
// Manager never issues two calls at once.
type Engine interface {
	// Connect opens a session to the CPU at host/rack/slot.
	Connect(host string, rack, slot int) error
	// Disconnect closes the session. Calling it when closed is allowed.
	Disconnect() error
	// IsAlive reports whether the transport still considers itself connected.
	IsAlive() bool

	ReadDB(dbNumber, start int, buf []byte) error
	WriteDB(dbNumber, start int, data []byte) error
	ReadInputs(start int, buf []byte) error
	WriteInputs(start int, data []byte) error
	ReadOutputs(start int, buf []byte) error
	WriteOutputs(start int, data []byte) error
	ReadMerkers(start int, buf []byte) error
	WriteMerkers(start int, data []byte) error
}

// Observer is notified of session state changes and completed writes. It is
// called with the session lock held and must not block.
type Observer interface {
	SessionEvent(event domain.SessionEvent)
}

// =============================================================================
// Configuration
// =============================================================================

// ManagerConfig holds the session manager settings.
type ManagerConfig struct {
	// Host, Rack and Slot are the initial target; Configure changes them.
	Host string
	Rack int
	Slot int

	// MaxRetries is the number of connection attempts per Connect call
	MaxRetries int

	// RetryDelay is the fixed pause between failed connection attempts
	RetryDelay time.Duration

	// CircuitBreaker guards engine exchanges
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// Enabled turns the breaker on
	Enabled bool

	// MaxRequests is the maximum number of requests allowed to pass when half-open
	MaxRequests uint32

	// Timeout is the period of the open state before transitioning to half-open
	Timeout time.Duration

	// FailureThreshold is the number of consecutive connection failures before opening
	FailureThreshold uint32
}

// ClientConfig holds configuration for the gos7 engine.
type ClientConfig struct {
	// Port is the TCP port (default: 102 for ISO-on-TCP)
	Port int

	// Timeout is the connection and response timeout
	Timeout time.Duration

	// IdleTimeout is how long the handler keeps an idle connection open
	IdleTimeout time.Duration
}

// =============================================================================
// Buffer Pool for Memory Efficiency
// =============================================================================

// BufferPool provides reusable byte buffers for the fixed-size typed reads.
var BufferPool = &bufferPool{
	pool1: &sync.Pool{New: func() interface{} { return make([]byte, 1) }},
	pool2: &sync.Pool{New: func() interface{} { return make([]byte, 2) }},
	pool4: &sync.Pool{New: func() interface{} { return make([]byte, 4) }},
}

type bufferPool struct {
	pool1 *sync.Pool
	pool2 *sync.Pool
	pool4 *sync.Pool
}

// Get retrieves a zeroed buffer of the specified size.
func (bp *bufferPool) Get(size int) []byte {
	var buf []byte
	switch {
	case size <= 1:
		buf = bp.pool1.Get().([]byte)[:size]
	case size <= 2:
		buf = bp.pool2.Get().([]byte)[:size]
	case size <= 4:
		buf = bp.pool4.Get().([]byte)[:size]
	default:
		// Raw area transfers are allocated directly
		return make([]byte, size)
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Put returns a buffer to the pool for reuse.
func (bp *bufferPool) Put(buf []byte) {
	switch cap(buf) {
	case 1:
		bp.pool1.Put(buf[:1])
	case 2:
		bp.pool2.Put(buf[:2])
	case 4:
		bp.pool4.Put(buf[:4])
	}
}
