package s7

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Manager owns the single S7 session of the process. Every operation, from
// Connect to a bit write, holds mu for its whole duration so at most one
// exchange is in flight on the engine at any time.
type Manager struct {
	mu        sync.Mutex
	engine    Engine
	config    ManagerConfig
	target    domain.Target
	state     domain.SessionState
	lastError string
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
	metrics   *metrics.Registry
	stats     *SessionStats

	// connected mirrors state for lock-free health probes
	connected atomic.Bool

	// observer receives state changes and completed writes; may be nil
	observer Observer

	// sleep waits between connection attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a session manager in the disconnected state.
func NewManager(engine Engine, config ManagerConfig, logger zerolog.Logger, metricsReg *metrics.Registry) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", domain.ErrInvalidConfig)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	m := &Manager{
		engine:  engine,
		config:  config,
		target:  domain.Target{Host: strings.TrimSpace(config.Host), Rack: config.Rack, Slot: config.Slot},
		state:   domain.StateDisconnected,
		logger:  logger.With().Str("component", "s7-session").Logger(),
		metrics: metricsReg,
		stats:   &SessionStats{},
		sleep:   sleepContext,
	}
	if config.CircuitBreaker.Enabled {
		m.breaker = m.newBreaker(config.CircuitBreaker)
	}
	m.metrics.SetConnected(false)
	return m, nil
}

// Configure replaces the connection target. Switching to a different target
// while connected disconnects first, so the session never reports a target
// it is not talking to.
func (m *Manager) Configure(host string, rack, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := domain.Target{Host: strings.TrimSpace(host), Rack: rack, Slot: slot}
	if next == m.target {
		return
	}
	if m.state == domain.StateConnected {
		m.logger.Warn().
			Str("from", m.target.String()).
			Str("to", next.String()).
			Msg("PLC target changed, closing current session")
		m.disconnectLocked()
	}
	m.target = next
	m.logger.Info().
		Str("host", next.Host).
		Int("rack", next.Rack).
		Int("slot", next.Slot).
		Msg("PLC target configured")
}

// Connect establishes the session, retrying up to MaxRetries times with a
// fixed RetryDelay between attempts. It is a no-op when already connected.
// Cancelling ctx aborts the wait between attempts.
func (m *Manager) Connect(ctx context.Context) (domain.SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.connectLocked(ctx)
	return m.statusLocked(), err
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.isConnectedLocked() {
		return nil
	}

	target := m.target
	attempts := 0
	var lastErr error

	if err := ctx.Err(); err != nil {
		lastErr = err
	} else {
		m.setStateLocked(domain.StateConnecting)
		m.logger.Info().Str("target", target.String()).Msg("Connecting to PLC")

		for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
			attempts = attempt
			start := time.Now()
			err := m.engine.Connect(target.Host, target.Rack, target.Slot)
			if err == nil && !m.engine.IsAlive() {
				err = errors.New("transport reports the session is not alive")
				_ = m.engine.Disconnect()
			}
			m.metrics.RecordConnect(err == nil, time.Since(start).Seconds())

			if err == nil {
				m.lastError = ""
				m.setStateLocked(domain.StateConnected)
				m.stats.ConnectCount.Add(1)
				m.logger.Info().
					Str("target", target.String()).
					Int("attempt", attempt).
					Msg("Connected to PLC")
				return nil
			}

			lastErr = err
			m.lastError = fmt.Sprintf("connection error: %v", err)
			m.logger.Error().
				Err(err).
				Str("target", target.String()).
				Int("attempt", attempt).
				Int("max_attempts", m.config.MaxRetries).
				Msg("PLC connection attempt failed")

			if attempt < m.config.MaxRetries {
				if err := m.sleep(ctx, m.config.RetryDelay); err != nil {
					lastErr = err
					break
				}
			}
		}
	}

	connectErr := &domain.ConnectError{Target: target, Attempts: attempts, Err: lastErr}
	m.lastError = connectErr.Error()
	m.stats.ErrorCount.Add(1)
	m.setStateLocked(domain.StateDisconnected)
	return connectErr
}

// Disconnect closes the session if it is open. Closing an already
// disconnected session is a no-op.
func (m *Manager) Disconnect() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectLocked()
	return m.statusLocked()
}

func (m *Manager) disconnectLocked() {
	if m.state != domain.StateConnected {
		return
	}
	if err := m.engine.Disconnect(); err != nil {
		m.logger.Warn().Err(err).Msg("Error closing PLC session")
	}
	m.setStateLocked(domain.StateDisconnected)
	m.logger.Info().Str("target", m.target.String()).Msg("Disconnected from PLC")
}

// IsConnected reports whether the session is usable. A session the transport
// dropped behind our back is demoted to disconnected here.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnectedLocked()
}

func (m *Manager) isConnectedLocked() bool {
	if m.state != domain.StateConnected {
		return false
	}
	if m.engine.IsAlive() {
		return true
	}

	m.logger.Warn().Str("target", m.target.String()).Msg("PLC session lost")
	if err := m.engine.Disconnect(); err != nil {
		m.logger.Debug().Err(err).Msg("Error releasing lost PLC session")
	}
	m.lastError = domain.ErrConnectionLost.Error()
	m.stats.LostCount.Add(1)
	m.setStateLocked(domain.StateDisconnected)
	m.metrics.RecordConnectionLost()
	return false
}

// Status returns a snapshot of the session. It does not alter the session.
func (m *Manager) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() domain.SessionStatus {
	state := m.state
	if state == domain.StateConnected && !m.engine.IsAlive() {
		state = domain.StateDisconnected
	}
	return domain.SessionStatus{
		Connected: state == domain.StateConnected,
		Host:      m.target.Host,
		Rack:      m.target.Rack,
		Slot:      m.target.Slot,
		LastError: m.lastError,
		State:     state,
	}
}

// Close disconnects the session for shutdown.
func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}

// SetObserver registers o for session events. Pass nil to stop notifications.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

func (m *Manager) setStateLocked(state domain.SessionState) {
	changed := state != m.state
	m.state = state
	connected := state == domain.StateConnected
	m.connected.Store(connected)
	m.metrics.SetConnected(connected)

	if changed && state != domain.StateConnecting && m.observer != nil {
		status := m.statusLocked()
		m.observer.SessionEvent(domain.SessionEvent{
			Kind:   domain.EventState,
			Status: &status,
			Time:   time.Now(),
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
