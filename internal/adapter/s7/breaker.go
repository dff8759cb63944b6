package s7

import (
	"errors"
	"fmt"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker guarding engine exchanges. Only
// connection-level failures count against it; a PLC rejecting an address is
// a successful round trip as far as the breaker is concerned.
func (m *Manager) newBreaker(config CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	threshold := config.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := config.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "s7-session",
		MaxRequests: maxRequests,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isConnectionError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("S7 circuit breaker state changed")
			m.metrics.RecordBreakerState(to.String())
		},
	})
}

// exchange runs one engine call through the breaker, if enabled.
func (m *Manager) exchange(fn func() error) error {
	if m.breaker == nil {
		return fn()
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrCircuitBreakerOpen, err)
	}
	return err
}

// BreakerState returns the breaker state name, or "disabled".
func (m *Manager) BreakerState() string {
	if m.breaker == nil {
		return "disabled"
	}
	return m.breaker.State().String()
}
