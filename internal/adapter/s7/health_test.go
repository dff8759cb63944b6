package s7

import (
	"context"
	"errors"
	"testing"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

func TestManager_HealthCheck(t *testing.T) {
	engine := newRecordingEngine()
	m, _ := newTestManager(t, engine, testManagerConfig())
	ctx := context.Background()

	if err := m.HealthCheck(ctx); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before connect, got %v", err)
	}

	if _, err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("expected healthy session, got %v", err)
	}

	m.Disconnect()
	if err := m.HealthCheck(ctx); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestManager_Stats(t *testing.T) {
	m, engine := connectedManager(t)
	ctx := context.Background()

	_ = m.WriteDBInt(ctx, 1, 0, 5)
	_, _ = m.ReadDBInt(ctx, 1, 0)
	_, _ = m.ReadDBInt(ctx, 1, 0)
	_, _ = m.ReadNamedArea(ctx, "FOO", 1, 0, 1)

	engine.Drop()
	_ = m.IsConnected()

	stats := m.Stats()
	if stats.ReadCount != 2 {
		t.Errorf("expected 2 reads, got %d", stats.ReadCount)
	}
	if stats.WriteCount != 1 {
		t.Errorf("expected 1 write, got %d", stats.WriteCount)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", stats.ErrorCount)
	}
	if stats.ConnectCount != 1 || stats.LostCount != 1 {
		t.Errorf("expected 1 connect and 1 loss, got %d and %d", stats.ConnectCount, stats.LostCount)
	}
	if stats.Connected {
		t.Error("stats should report the lost session")
	}
	if stats.LastUsed.IsZero() {
		t.Error("expected last used time")
	}
	if stats.BreakerState != "disabled" {
		t.Errorf("expected disabled breaker, got %s", stats.BreakerState)
	}
}
