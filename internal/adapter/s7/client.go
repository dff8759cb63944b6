package s7

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/robinson/gos7"
	"github.com/rs/zerolog"
)

// GoS7Engine is the Engine backed by github.com/robinson/gos7 over ISO-on-TCP.
type GoS7Engine struct {
	config  ClientConfig
	handler *gos7.TCPClientHandler
	client  gos7.Client
	alive   atomic.Bool
	logger  zerolog.Logger
}

// NewGoS7Engine creates an unconnected engine.
func NewGoS7Engine(config ClientConfig, logger zerolog.Logger) *GoS7Engine {
	if config.Port == 0 {
		config.Port = 102 // Standard ISO-on-TCP port
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	return &GoS7Engine{
		config: config,
		logger: logger.With().Str("component", "s7-engine").Logger(),
	}
}

// Connect establishes the connection to the S7 PLC.
func (e *GoS7Engine) Connect(host string, rack, slot int) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("%w: host is required", domain.ErrS7ConnectionFailed)
	}
	if e.handler != nil {
		_ = e.Disconnect()
	}

	address := e.dialAddress(host)
	handler := gos7.NewTCPClientHandler(address, rack, slot)
	handler.Timeout = e.config.Timeout
	handler.IdleTimeout = e.config.IdleTimeout

	e.logger.Debug().
		Str("address", address).
		Int("rack", rack).
		Int("slot", slot).
		Msg("Opening ISO-on-TCP connection")

	if err := handler.Connect(); err != nil {
		// Close handler to release resources on failure
		_ = handler.Close()
		return err
	}

	e.handler = handler
	e.client = gos7.NewClient(handler)
	e.alive.Store(true)
	return nil
}

// dialAddress appends the configured port unless host already carries one.
func (e *GoS7Engine) dialAddress(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(e.config.Port))
}

// Disconnect closes the connection to the S7 PLC.
func (e *GoS7Engine) Disconnect() error {
	e.alive.Store(false)
	if e.handler == nil {
		return nil
	}
	err := e.handler.Close()
	e.handler = nil
	e.client = nil
	return err
}

// IsAlive reports whether the last exchange left the connection usable.
func (e *GoS7Engine) IsAlive() bool {
	return e.client != nil && e.alive.Load()
}

func (e *GoS7Engine) ReadDB(dbNumber, start int, buf []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGReadDB(dbNumber, start, len(buf), buf) })
}

func (e *GoS7Engine) WriteDB(dbNumber, start int, data []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGWriteDB(dbNumber, start, len(data), data) })
}

func (e *GoS7Engine) ReadInputs(start int, buf []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGReadEB(start, len(buf), buf) })
}

func (e *GoS7Engine) WriteInputs(start int, data []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGWriteEB(start, len(data), data) })
}

func (e *GoS7Engine) ReadOutputs(start int, buf []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGReadAB(start, len(buf), buf) })
}

func (e *GoS7Engine) WriteOutputs(start int, data []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGWriteAB(start, len(data), data) })
}

func (e *GoS7Engine) ReadMerkers(start int, buf []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGReadMB(start, len(buf), buf) })
}

func (e *GoS7Engine) WriteMerkers(start int, data []byte) error {
	return e.exchange(func(c gos7.Client) error { return c.AGWriteMB(start, len(data), data) })
}

// exchange runs one request and marks the engine dead when the failure
// looks like a broken connection rather than a PLC-side rejection.
func (e *GoS7Engine) exchange(fn func(gos7.Client) error) error {
	if e.client == nil {
		return domain.ErrConnectionClosed
	}
	err := fn(e.client)
	if err != nil && isConnectionError(err) {
		e.alive.Store(false)
		e.logger.Warn().Err(err).Msg("Transport failure, marking connection dead")
	}
	return err
}

// isConnectionError checks if the error is a connection-related error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrConnectionLost) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "closed") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof")
}
