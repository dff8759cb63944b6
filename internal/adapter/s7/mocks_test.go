package s7

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/rs/zerolog"
)

// =============================================================================
// Recording Engine
// =============================================================================

// recordingEngine wraps a MemoryEngine, counts every call and tracks how many
// engine calls were in flight at once.
type recordingEngine struct {
	*MemoryEngine

	mu          sync.Mutex
	calls       map[string]int
	connectErrs []error // consumed by successive Connect calls
	readErr     error
	writeErr    error
	delay       time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{
		MemoryEngine: NewMemoryEngine(SimulatorConfig{}),
		calls:        make(map[string]int),
	}
}

func (r *recordingEngine) enter(name string) func() {
	r.mu.Lock()
	r.calls[name]++
	r.mu.Unlock()

	n := r.inFlight.Add(1)
	for {
		max := r.maxInFlight.Load()
		if n <= max || r.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return func() { r.inFlight.Add(-1) }
}

func (r *recordingEngine) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// primitiveCalls counts data transfers, excluding connect and disconnect.
func (r *recordingEngine) primitiveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for name, n := range r.calls {
		if name != "Connect" && name != "Disconnect" {
			total += n
		}
	}
	return total
}

func (r *recordingEngine) Connect(host string, rack, slot int) error {
	defer r.enter("Connect")()
	r.mu.Lock()
	var err error
	if len(r.connectErrs) > 0 {
		err = r.connectErrs[0]
		r.connectErrs = r.connectErrs[1:]
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.MemoryEngine.Connect(host, rack, slot)
}

func (r *recordingEngine) Disconnect() error {
	defer r.enter("Disconnect")()
	return r.MemoryEngine.Disconnect()
}

func (r *recordingEngine) ReadDB(dbNumber, start int, buf []byte) error {
	defer r.enter("ReadDB")()
	if r.readErr != nil {
		return r.readErr
	}
	return r.MemoryEngine.ReadDB(dbNumber, start, buf)
}

func (r *recordingEngine) WriteDB(dbNumber, start int, data []byte) error {
	defer r.enter("WriteDB")()
	if r.writeErr != nil {
		return r.writeErr
	}
	return r.MemoryEngine.WriteDB(dbNumber, start, data)
}

func (r *recordingEngine) ReadInputs(start int, buf []byte) error {
	defer r.enter("ReadInputs")()
	return r.MemoryEngine.ReadInputs(start, buf)
}

func (r *recordingEngine) WriteInputs(start int, data []byte) error {
	defer r.enter("WriteInputs")()
	return r.MemoryEngine.WriteInputs(start, data)
}

func (r *recordingEngine) ReadOutputs(start int, buf []byte) error {
	defer r.enter("ReadOutputs")()
	return r.MemoryEngine.ReadOutputs(start, buf)
}

func (r *recordingEngine) WriteOutputs(start int, data []byte) error {
	defer r.enter("WriteOutputs")()
	return r.MemoryEngine.WriteOutputs(start, data)
}

func (r *recordingEngine) ReadMerkers(start int, buf []byte) error {
	defer r.enter("ReadMerkers")()
	if r.readErr != nil {
		return r.readErr
	}
	return r.MemoryEngine.ReadMerkers(start, buf)
}

func (r *recordingEngine) WriteMerkers(start int, data []byte) error {
	defer r.enter("WriteMerkers")()
	return r.MemoryEngine.WriteMerkers(start, data)
}

// =============================================================================
// Helpers
// =============================================================================

// sleepRecorder replaces the retry wait and remembers the requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		Host:       "10.0.0.1",
		Rack:       0,
		Slot:       1,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

func newTestManager(t *testing.T, engine Engine, config ManagerConfig) (*Manager, *sleepRecorder) {
	t.Helper()
	m, err := NewManager(engine, config, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sleeper := &sleepRecorder{}
	m.sleep = sleeper.sleep
	return m, sleeper
}

// connectedManager returns a manager already connected to a recording engine.
func connectedManager(t *testing.T) (*Manager, *recordingEngine) {
	t.Helper()
	engine := newRecordingEngine()
	m, _ := newTestManager(t, engine, testManagerConfig())
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return m, engine
}

// recordingObserver collects session events.
type recordingObserver struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (o *recordingObserver) SessionEvent(event domain.SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) recorded() []domain.SessionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.SessionEvent(nil), o.events...)
}
