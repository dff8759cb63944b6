package s7

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// =============================================================================
// Typed DB and Merker access
// =============================================================================

// ReadDBReal reads the REAL at DB dbNumber, byte offset.
func (m *Manager) ReadDBReal(ctx context.Context, dbNumber, offset int) (float32, error) {
	var value float32
	err := m.access(ctx, domain.OpRead, domain.ValueAddress(domain.AreaDB, dbNumber, offset, domain.KindReal),
		func(addr domain.Address) error {
			buf := BufferPool.Get(4)
			defer BufferPool.Put(buf)
			if err := m.readRaw(domain.OpRead, addr, buf); err != nil {
				return err
			}
			v, err := DecodeReal(buf)
			value = v
			return err
		})
	return value, err
}

// WriteDBReal writes value as a REAL at DB dbNumber, byte offset.
func (m *Manager) WriteDBReal(ctx context.Context, dbNumber, offset int, value float32) error {
	return m.access(ctx, domain.OpWrite, domain.ValueAddress(domain.AreaDB, dbNumber, offset, domain.KindReal),
		func(addr domain.Address) error {
			return m.writeRaw(addr, EncodeReal(value))
		})
}

// ReadDBInt reads the INT at DB dbNumber, byte offset.
func (m *Manager) ReadDBInt(ctx context.Context, dbNumber, offset int) (int16, error) {
	var value int16
	err := m.access(ctx, domain.OpRead, domain.ValueAddress(domain.AreaDB, dbNumber, offset, domain.KindInt),
		func(addr domain.Address) error {
			buf := BufferPool.Get(2)
			defer BufferPool.Put(buf)
			if err := m.readRaw(domain.OpRead, addr, buf); err != nil {
				return err
			}
			v, err := DecodeInt(buf)
			value = v
			return err
		})
	return value, err
}

// WriteDBInt writes value as an INT at DB dbNumber, byte offset.
func (m *Manager) WriteDBInt(ctx context.Context, dbNumber, offset int, value int16) error {
	return m.access(ctx, domain.OpWrite, domain.ValueAddress(domain.AreaDB, dbNumber, offset, domain.KindInt),
		func(addr domain.Address) error {
			return m.writeRaw(addr, EncodeInt(value))
		})
}

// ReadDBBool reads bit of byte offset in DB dbNumber.
func (m *Manager) ReadDBBool(ctx context.Context, dbNumber, offset, bit int) (bool, error) {
	return m.readBit(ctx, domain.BitAddress(domain.AreaDB, dbNumber, offset, bit))
}

// WriteDBBool sets or clears bit of byte offset in DB dbNumber. The other
// bits of the byte keep the value read immediately before the write.
func (m *Manager) WriteDBBool(ctx context.Context, dbNumber, offset, bit int, value bool) error {
	return m.writeBit(ctx, domain.BitAddress(domain.AreaDB, dbNumber, offset, bit), value)
}

// ReadMBit reads merker bit M<offset>.<bit>.
func (m *Manager) ReadMBit(ctx context.Context, offset, bit int) (bool, error) {
	return m.readBit(ctx, domain.BitAddress(domain.AreaMemory, 0, offset, bit))
}

// WriteMBit sets or clears merker bit M<offset>.<bit>, preserving the other
// bits of the byte.
func (m *Manager) WriteMBit(ctx context.Context, offset, bit int, value bool) error {
	return m.writeBit(ctx, domain.BitAddress(domain.AreaMemory, 0, offset, bit), value)
}

// WriteMBitValue is WriteMBit for a loosely typed value (bool, 0/1 or a
// number). A value that is not a bool fails without any PLC traffic.
func (m *Manager) WriteMBitValue(ctx context.Context, offset, bit int, value interface{}) error {
	v, err := BoolFromValue(value)
	if err != nil {
		return m.Reject(domain.OpWrite, domain.BitAddress(domain.AreaMemory, 0, offset, bit).String(), err)
	}
	return m.WriteMBit(ctx, offset, bit, v)
}

func (m *Manager) readBit(ctx context.Context, bitAddr domain.Address) (bool, error) {
	var value bool
	err := m.access(ctx, domain.OpRead, bitAddr, func(addr domain.Address) error {
		if err := checkBit(addr); err != nil {
			return err
		}
		buf := BufferPool.Get(1)
		defer BufferPool.Put(buf)
		if err := m.readRaw(domain.OpRead, addr, buf); err != nil {
			return err
		}
		value = GetBit(buf[0], addr.Bit)
		return nil
	})
	return value, err
}

// writeBit is a read-modify-write of the containing byte under one lock hold.
// The PLC program can still change the byte between the read and the write.
func (m *Manager) writeBit(ctx context.Context, bitAddr domain.Address, value bool) error {
	return m.access(ctx, domain.OpWrite, bitAddr, func(addr domain.Address) error {
		if err := checkBit(addr); err != nil {
			return err
		}
		buf := BufferPool.Get(1)
		defer BufferPool.Put(buf)
		if err := m.readRaw(domain.OpWrite, addr, buf); err != nil {
			return err
		}
		buf[0] = SetBit(buf[0], addr.Bit, value)
		return m.writeRaw(addr, buf)
	})
}

// checkBit rejects a bit access whose bit number collides with NoBit.
func checkBit(addr domain.Address) error {
	if addr.Bit < 0 {
		return &domain.AddressError{Field: "bit_offset", Value: addr.Bit, Reason: "must be between 0 and 7"}
	}
	return nil
}

// =============================================================================
// Dynamically typed access
// =============================================================================

// ReadTyped reads a DB value whose kind is chosen at runtime. The result is a
// bool, int16 or float32. bit is only used for KindBool.
func (m *Manager) ReadTyped(ctx context.Context, kind domain.ValueKind, dbNumber, offset, bit int) (interface{}, error) {
	switch kind {
	case domain.KindBool:
		return m.ReadDBBool(ctx, dbNumber, offset, bit)
	case domain.KindInt:
		return m.ReadDBInt(ctx, dbNumber, offset)
	case domain.KindReal:
		return m.ReadDBReal(ctx, dbNumber, offset)
	}
	return nil, m.Reject(domain.OpRead, fmt.Sprintf("DB%d.%d", dbNumber, offset),
		&domain.AddressError{Field: "type", Value: kind.String(), Reason: "expected bool, int or real"})
}

// ReadDB is ReadTyped with the kind given by name (bool, int or real).
func (m *Manager) ReadDB(ctx context.Context, typeName string, dbNumber, offset, bit int) (interface{}, error) {
	kind, err := domain.ParseValueKind(typeName)
	if err != nil {
		return nil, m.Reject(domain.OpRead, fmt.Sprintf("DB%d.%d", dbNumber, offset), err)
	}
	return m.ReadTyped(ctx, kind, dbNumber, offset, bit)
}

// WriteDB is WriteTyped with the kind given by name.
func (m *Manager) WriteDB(ctx context.Context, typeName string, dbNumber, offset, bit int, value interface{}) error {
	kind, err := domain.ParseValueKind(typeName)
	if err != nil {
		return m.Reject(domain.OpWrite, fmt.Sprintf("DB%d.%d", dbNumber, offset), err)
	}
	return m.WriteTyped(ctx, kind, dbNumber, offset, bit, value)
}

// WriteTyped converts value to kind and writes it to the DB. Values that do
// not fit the kind fail before anything is sent to the PLC.
func (m *Manager) WriteTyped(ctx context.Context, kind domain.ValueKind, dbNumber, offset, bit int, value interface{}) error {
	access := fmt.Sprintf("DB%d.%d", dbNumber, offset)
	switch kind {
	case domain.KindBool:
		v, err := BoolFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, access, err)
		}
		return m.WriteDBBool(ctx, dbNumber, offset, bit, v)
	case domain.KindInt:
		v, err := IntFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, access, err)
		}
		return m.WriteDBInt(ctx, dbNumber, offset, v)
	case domain.KindReal:
		v, err := RealFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, access, err)
		}
		return m.WriteDBReal(ctx, dbNumber, offset, v)
	}
	return m.Reject(domain.OpWrite, access,
		&domain.AddressError{Field: "type", Value: kind.String(), Reason: "expected bool, int or real"})
}

// =============================================================================
// Raw area access
// =============================================================================

// ReadArea reads size raw bytes from area starting at start. dbNumber is only
// used for the DB area.
func (m *Manager) ReadArea(ctx context.Context, area domain.Area, dbNumber, start, size int) ([]byte, error) {
	if area != domain.AreaDB {
		dbNumber = 0
	}
	var data []byte
	err := m.access(ctx, domain.OpRead, domain.RangeAddress(area, dbNumber, start, size), func(addr domain.Address) error {
		buf := make([]byte, addr.Size)
		if err := m.readRaw(domain.OpRead, addr, buf); err != nil {
			return err
		}
		data = buf
		return nil
	})
	return data, err
}

// WriteArea writes data to area starting at start.
func (m *Manager) WriteArea(ctx context.Context, area domain.Area, dbNumber, start int, data []byte) error {
	if area != domain.AreaDB {
		dbNumber = 0
	}
	return m.access(ctx, domain.OpWrite, domain.RangeAddress(area, dbNumber, start, len(data)), func(addr domain.Address) error {
		return m.writeRaw(addr, data)
	})
}

// ReadNamedArea is ReadArea for an area given as a token (DB, INPUT, OUTPUT
// or MEMORY). An unknown token fails without any PLC traffic.
func (m *Manager) ReadNamedArea(ctx context.Context, token string, dbNumber, start, size int) ([]byte, error) {
	area, err := ParseArea(token)
	if err != nil {
		return nil, m.Reject(domain.OpRead, strings.ToUpper(token)+" area", err)
	}
	return m.ReadArea(ctx, area, dbNumber, start, size)
}

// WriteNamedArea is WriteArea for an area given as a token.
func (m *Manager) WriteNamedArea(ctx context.Context, token string, dbNumber, start int, data []byte) error {
	area, err := ParseArea(token)
	if err != nil {
		return m.Reject(domain.OpWrite, strings.ToUpper(token)+" area", err)
	}
	return m.WriteArea(ctx, area, dbNumber, start, data)
}

// =============================================================================
// Symbolic access
// =============================================================================

// ReadSymbol reads an S7 symbolic address such as DB1.DBD0, MW4 or I0.1.
// The result is a bool, uint8, int16 or float32 depending on the access size.
func (m *Manager) ReadSymbol(ctx context.Context, symbol string) (interface{}, error) {
	addr, kind, err := ParseSymbolic(symbol)
	if err != nil {
		return nil, m.Reject(domain.OpRead, symbol, err)
	}

	var value interface{}
	err = m.access(ctx, domain.OpRead, addr, func(addr domain.Address) error {
		buf := BufferPool.Get(addr.Size)
		defer BufferPool.Put(buf)
		if err := m.readRaw(domain.OpRead, addr, buf); err != nil {
			return err
		}
		switch kind {
		case domain.KindBool:
			value = GetBit(buf[0], addr.Bit)
		case domain.KindInt:
			v, err := DecodeInt(buf)
			if err != nil {
				return err
			}
			value = v
		case domain.KindReal:
			v, err := DecodeReal(buf)
			if err != nil {
				return err
			}
			value = v
		default:
			value = buf[0]
		}
		return nil
	})
	return value, err
}

// WriteSymbol converts value to the kind implied by symbol and writes it.
// Bit addresses are written read-modify-write.
func (m *Manager) WriteSymbol(ctx context.Context, symbol string, value interface{}) error {
	addr, kind, err := ParseSymbolic(symbol)
	if err != nil {
		return m.Reject(domain.OpWrite, symbol, err)
	}

	var data []byte
	switch kind {
	case domain.KindBool:
		v, err := BoolFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, addr.String(), err)
		}
		return m.writeBit(ctx, addr, v)
	case domain.KindInt:
		v, err := IntFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, addr.String(), err)
		}
		data = EncodeInt(v)
	case domain.KindReal:
		v, err := RealFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, addr.String(), err)
		}
		data = EncodeReal(v)
	default:
		v, err := ByteFromValue(value)
		if err != nil {
			return m.Reject(domain.OpWrite, addr.String(), err)
		}
		data = []byte{v}
	}
	return m.access(ctx, domain.OpWrite, addr, func(addr domain.Address) error {
		return m.writeRaw(addr, data)
	})
}

// =============================================================================
// Access pipeline
// =============================================================================

// access runs fn under the session lock once the session is known to be
// connected and addr is valid. Outcome is recorded in last error, logs,
// stats and metrics.
func (m *Manager) access(ctx context.Context, op string, addr domain.Address, fn func(domain.Address) error) (err error) {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.finishLocked(op, addr, err, time.Since(start))
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if !m.isConnectedLocked() {
		return fmt.Errorf("%w: cannot %s %s", domain.ErrNotConnected, op, addr)
	}
	if err = addr.Validate(); err != nil {
		return err
	}
	return fn(addr)
}

// Reject records a request that failed before reaching the PLC, such as a
// malformed payload, and returns err.
func (m *Manager) Reject(op, access string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = err.Error()
	m.stats.ErrorCount.Add(1)
	m.metrics.RecordOperation(op, "unknown", domain.ErrorKind(err), 0, 0)
	m.logger.Error().Err(err).Str("op", op).Str("access", access).Msg("PLC request rejected")
	return err
}

func (m *Manager) finishLocked(op string, addr domain.Address, err error, elapsed time.Duration) {
	m.stats.LastUsed.Store(time.Now().UnixNano())
	area := addr.Area.String()

	if err != nil {
		m.lastError = err.Error()
		m.stats.ErrorCount.Add(1)
		m.metrics.RecordOperation(op, area, domain.ErrorKind(err), 0, elapsed.Seconds())
		m.logger.Error().
			Err(err).
			Str("op", op).
			Str("access", addr.String()).
			Str("kind", domain.ErrorKind(err)).
			Msg("PLC access failed")
		return
	}

	m.lastError = ""
	if op == domain.OpRead {
		m.stats.ReadCount.Add(1)
	} else {
		m.stats.WriteCount.Add(1)
	}
	m.metrics.RecordOperation(op, area, "", addr.Size, elapsed.Seconds())
	if op == domain.OpWrite && m.observer != nil {
		m.observer.SessionEvent(domain.SessionEvent{
			Kind:   domain.EventWrite,
			Access: addr.String(),
			Time:   time.Now(),
		})
	}
	m.logger.Debug().
		Str("op", op).
		Str("access", addr.String()).
		Dur("duration", elapsed).
		Msg("PLC access completed")
}

// readRaw fills buf from the memory addressed by addr. op names the caller's
// operation so a failed read inside a bit write reports as a write.
func (m *Manager) readRaw(op string, addr domain.Address, buf []byte) error {
	err := m.exchange(func() error {
		switch addr.Area {
		case domain.AreaDB:
			return m.engine.ReadDB(addr.DBNumber, addr.Offset, buf)
		case domain.AreaInput:
			return m.engine.ReadInputs(addr.Offset, buf)
		case domain.AreaOutput:
			return m.engine.ReadOutputs(addr.Offset, buf)
		case domain.AreaMemory:
			return m.engine.ReadMerkers(addr.Offset, buf)
		}
		return fmt.Errorf("%w: %s", domain.ErrS7InvalidArea, addr.Area)
	})
	if err != nil {
		return &domain.TransportError{Op: op, Access: addr.String(), Err: err}
	}
	return nil
}

func (m *Manager) writeRaw(addr domain.Address, data []byte) error {
	err := m.exchange(func() error {
		switch addr.Area {
		case domain.AreaDB:
			return m.engine.WriteDB(addr.DBNumber, addr.Offset, data)
		case domain.AreaInput:
			return m.engine.WriteInputs(addr.Offset, data)
		case domain.AreaOutput:
			return m.engine.WriteOutputs(addr.Offset, data)
		case domain.AreaMemory:
			return m.engine.WriteMerkers(addr.Offset, data)
		}
		return fmt.Errorf("%w: %s", domain.ErrS7InvalidArea, addr.Area)
	})
	if err != nil {
		return &domain.TransportError{Op: domain.OpWrite, Access: addr.String(), Err: err}
	}
	return nil
}
