package s7

import (
	"fmt"
	"sync"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// SimulatorConfig sizes the memory of a MemoryEngine.
type SimulatorConfig struct {
	// DBSize is the size in bytes of every data block
	DBSize int

	// AreaSize is the size in bytes of the I, Q and M areas
	AreaSize int

	// DataBlocks restricts the existing data blocks. Empty means any DB
	// number is created on first access.
	DataBlocks []int
}

// MemoryEngine is an Engine that keeps PLC memory in process. It backs the
// --simulate mode and the tests.
type MemoryEngine struct {
	mu        sync.Mutex
	config    SimulatorConfig
	connected bool
	target    domain.Target
	dbs       map[int][]byte
	inputs    []byte
	outputs   []byte
	merkers   []byte
}

// NewMemoryEngine creates a simulated PLC.
func NewMemoryEngine(config SimulatorConfig) *MemoryEngine {
	if config.DBSize <= 0 {
		config.DBSize = 1024
	}
	if config.AreaSize <= 0 {
		config.AreaSize = 1024
	}
	m := &MemoryEngine{
		config:  config,
		dbs:     make(map[int][]byte),
		inputs:  make([]byte, config.AreaSize),
		outputs: make([]byte, config.AreaSize),
		merkers: make([]byte, config.AreaSize),
	}
	for _, db := range config.DataBlocks {
		m.dbs[db] = make([]byte, config.DBSize)
	}
	return m
}

func (m *MemoryEngine) Connect(host string, rack, slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.target = domain.Target{Host: host, Rack: rack, Slot: slot}
	return nil
}

func (m *MemoryEngine) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryEngine) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Drop simulates the transport silently losing the connection.
func (m *MemoryEngine) Drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// Target returns the target of the last Connect call.
func (m *MemoryEngine) Target() domain.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Snapshot returns a copy of size bytes of area memory starting at start.
func (m *MemoryEngine) Snapshot(area domain.Area, dbNumber, start, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, err := m.memory(area, dbNumber)
	if err != nil {
		return nil, err
	}
	if err := checkRange(mem, start, size); err != nil {
		return nil, err
	}
	return append([]byte(nil), mem[start:start+size]...), nil
}

func (m *MemoryEngine) ReadDB(dbNumber, start int, buf []byte) error {
	return m.read(domain.AreaDB, dbNumber, start, buf)
}

func (m *MemoryEngine) WriteDB(dbNumber, start int, data []byte) error {
	return m.write(domain.AreaDB, dbNumber, start, data)
}

func (m *MemoryEngine) ReadInputs(start int, buf []byte) error {
	return m.read(domain.AreaInput, 0, start, buf)
}

func (m *MemoryEngine) WriteInputs(start int, data []byte) error {
	return m.write(domain.AreaInput, 0, start, data)
}

func (m *MemoryEngine) ReadOutputs(start int, buf []byte) error {
	return m.read(domain.AreaOutput, 0, start, buf)
}

func (m *MemoryEngine) WriteOutputs(start int, data []byte) error {
	return m.write(domain.AreaOutput, 0, start, data)
}

func (m *MemoryEngine) ReadMerkers(start int, buf []byte) error {
	return m.read(domain.AreaMemory, 0, start, buf)
}

func (m *MemoryEngine) WriteMerkers(start int, data []byte) error {
	return m.write(domain.AreaMemory, 0, start, data)
}

func (m *MemoryEngine) read(area domain.Area, dbNumber, start int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return domain.ErrConnectionClosed
	}
	mem, err := m.memory(area, dbNumber)
	if err != nil {
		return err
	}
	if err := checkRange(mem, start, len(buf)); err != nil {
		return err
	}
	copy(buf, mem[start:start+len(buf)])
	return nil
}

func (m *MemoryEngine) write(area domain.Area, dbNumber, start int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return domain.ErrConnectionClosed
	}
	mem, err := m.memory(area, dbNumber)
	if err != nil {
		return err
	}
	if err := checkRange(mem, start, len(data)); err != nil {
		return err
	}
	copy(mem[start:], data)
	return nil
}

// memory returns the backing slice of an area. Must be called with mu held.
func (m *MemoryEngine) memory(area domain.Area, dbNumber int) ([]byte, error) {
	switch area {
	case domain.AreaDB:
		mem, ok := m.dbs[dbNumber]
		if !ok {
			if len(m.config.DataBlocks) > 0 {
				return nil, fmt.Errorf("%w: DB%d", domain.ErrS7ObjectNotExist, dbNumber)
			}
			mem = make([]byte, m.config.DBSize)
			m.dbs[dbNumber] = mem
		}
		return mem, nil
	case domain.AreaInput:
		return m.inputs, nil
	case domain.AreaOutput:
		return m.outputs, nil
	case domain.AreaMemory:
		return m.merkers, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrS7InvalidArea, area)
	}
}

func checkRange(mem []byte, start, size int) error {
	if start < 0 || size < 0 || start+size > len(mem) {
		return fmt.Errorf("%w: bytes %d..%d of %d", domain.ErrS7AddressOutOfRange, start, start+size, len(mem))
	}
	return nil
}
