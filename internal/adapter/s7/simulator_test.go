package s7

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

func TestMemoryEngine_RequiresConnection(t *testing.T) {
	e := NewMemoryEngine(SimulatorConfig{})

	if err := e.ReadDB(1, 0, make([]byte, 1)); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed before connect, got %v", err)
	}

	if err := e.Connect("sim", 0, 1); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !e.IsAlive() {
		t.Error("engine should be alive after connect")
	}

	e.Drop()
	if e.IsAlive() {
		t.Error("engine should not be alive after drop")
	}
	if err := e.WriteMerkers(0, []byte{1}); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed after drop, got %v", err)
	}
}

func TestMemoryEngine_AreasAreIndependent(t *testing.T) {
	e := NewMemoryEngine(SimulatorConfig{AreaSize: 16, DBSize: 16})
	_ = e.Connect("sim", 0, 1)

	_ = e.WriteDB(1, 0, []byte{0x11})
	_ = e.WriteDB(2, 0, []byte{0x22})
	_ = e.WriteInputs(0, []byte{0x33})
	_ = e.WriteOutputs(0, []byte{0x44})
	_ = e.WriteMerkers(0, []byte{0x55})

	checks := []struct {
		area     domain.Area
		dbNumber int
		want     byte
	}{
		{domain.AreaDB, 1, 0x11},
		{domain.AreaDB, 2, 0x22},
		{domain.AreaInput, 0, 0x33},
		{domain.AreaOutput, 0, 0x44},
		{domain.AreaMemory, 0, 0x55},
	}
	for _, c := range checks {
		got, err := e.Snapshot(c.area, c.dbNumber, 0, 1)
		if err != nil {
			t.Fatalf("Snapshot(%s) error = %v", c.area, err)
		}
		if got[0] != c.want {
			t.Errorf("%s%d holds %#x, want %#x", c.area, c.dbNumber, got[0], c.want)
		}
	}
}

func TestMemoryEngine_Bounds(t *testing.T) {
	e := NewMemoryEngine(SimulatorConfig{AreaSize: 8, DBSize: 8})
	_ = e.Connect("sim", 0, 1)

	if err := e.ReadInputs(6, make([]byte, 4)); !errors.Is(err, domain.ErrS7AddressOutOfRange) {
		t.Errorf("expected ErrS7AddressOutOfRange, got %v", err)
	}
	if err := e.WriteDB(1, 8, []byte{1}); !errors.Is(err, domain.ErrS7AddressOutOfRange) {
		t.Errorf("expected ErrS7AddressOutOfRange, got %v", err)
	}

	buf := make([]byte, 8)
	if err := e.ReadOutputs(0, buf); err != nil {
		t.Errorf("full-area read should succeed, got %v", err)
	}
}

func TestMemoryEngine_RestrictedDataBlocks(t *testing.T) {
	e := NewMemoryEngine(SimulatorConfig{DataBlocks: []int{1, 10}})
	_ = e.Connect("sim", 0, 1)

	if err := e.WriteDB(10, 0, []byte{1, 2}); err != nil {
		t.Fatalf("WriteDB(10) error = %v", err)
	}
	got := make([]byte, 2)
	if err := e.ReadDB(10, 0, got); err != nil || !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("ReadDB(10) = % X, %v", got, err)
	}
	if err := e.ReadDB(2, 0, got); !errors.Is(err, domain.ErrS7ObjectNotExist) {
		t.Errorf("expected ErrS7ObjectNotExist for DB2, got %v", err)
	}
}
