package s7

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// SessionStats tracks session statistics using atomic operations.
type SessionStats struct {
	ReadCount    atomic.Uint64
	WriteCount   atomic.Uint64
	ErrorCount   atomic.Uint64
	ConnectCount atomic.Uint64
	LostCount    atomic.Uint64
	LastUsed     atomic.Int64 // unix nanoseconds
}

// Stats is a snapshot of the session statistics.
type Stats struct {
	Connected    bool      `json:"connected"`
	BreakerState string    `json:"breaker_state"`
	ReadCount    uint64    `json:"read_count"`
	WriteCount   uint64    `json:"write_count"`
	ErrorCount   uint64    `json:"error_count"`
	ConnectCount uint64    `json:"connect_count"`
	LostCount    uint64    `json:"lost_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`
}

// Stats returns the session statistics without waiting for the session lock.
func (m *Manager) Stats() Stats {
	s := Stats{
		Connected:    m.connected.Load(),
		BreakerState: m.BreakerState(),
		ReadCount:    m.stats.ReadCount.Load(),
		WriteCount:   m.stats.WriteCount.Load(),
		ErrorCount:   m.stats.ErrorCount.Load(),
		ConnectCount: m.stats.ConnectCount.Load(),
		LostCount:    m.stats.LostCount.Load(),
	}
	if ns := m.stats.LastUsed.Load(); ns != 0 {
		s.LastUsed = time.Unix(0, ns)
	}
	return s
}

// HealthCheck reports the session as unhealthy when it is not connected.
// Implements the health.Checker interface. It never takes the session lock,
// so a probe is not held up by a slow connect.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.breaker != nil && m.BreakerState() == "open" {
		return domain.ErrCircuitBreakerOpen
	}
	if !m.connected.Load() {
		return domain.ErrNotConnected
	}
	return nil
}
