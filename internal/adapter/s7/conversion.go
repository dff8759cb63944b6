// Package s7 provides conversion utilities for S7 data types.
package s7

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// =============================================================================
// Bit Access
// =============================================================================

// GetBit reports whether bit (0-7) of b is set.
func GetBit(b byte, bit int) bool {
	return b&(1<<uint(bit)) != 0
}

// SetBit returns b with bit (0-7) set or cleared. The other seven bits are
// left untouched.
func SetBit(b byte, bit int, value bool) byte {
	if value {
		return b | (1 << uint(bit))
	}
	return b &^ (1 << uint(bit))
}

// =============================================================================
// INT (16-bit signed, big-endian)
// =============================================================================

// DecodeInt parses a big-endian two's-complement INT.
func DecodeInt(data []byte) (int16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: INT needs 2 bytes, got %d", domain.ErrInvalidDataLength, len(data))
	}
	return int16(binary.BigEndian.Uint16(data)), nil
}

// EncodeInt returns the 2-byte big-endian representation of v.
func EncodeInt(v int16) []byte {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(v))
	return data
}

// =============================================================================
// REAL (IEEE-754 single precision, big-endian)
// =============================================================================

// DecodeReal parses a big-endian IEEE-754 REAL.
func DecodeReal(data []byte) (float32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: REAL needs 4 bytes, got %d", domain.ErrInvalidDataLength, len(data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}

// EncodeReal returns the 4-byte big-endian representation of v.
func EncodeReal(v float32) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, math.Float32bits(v))
	return data
}

// =============================================================================
// Loosely-typed values (JSON payloads)
// =============================================================================

// BoolFromValue converts a decoded JSON value to a BOOL.
func BoolFromValue(v interface{}) (bool, error) {
	b, ok := toBool(v)
	if !ok {
		return false, fmt.Errorf("%w: cannot convert %T to bool", domain.ErrInvalidWriteValue, v)
	}
	return b, nil
}

// IntFromValue converts a decoded JSON value to an INT. Values outside the
// INT range or with a fractional part are rejected rather than truncated.
func IntFromValue(v interface{}) (int16, error) {
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", domain.ErrInvalidWriteValue, f)
	}
	if f, ok := v.(float32); ok && float64(f) != math.Trunc(float64(f)) {
		return 0, fmt.Errorf("%w: %v is not an integer", domain.ErrInvalidWriteValue, f)
	}
	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Errorf("%w: cannot convert %T to int16", domain.ErrInvalidWriteValue, v)
	}
	if f < math.MinInt16 || f > math.MaxInt16 {
		return 0, fmt.Errorf("%w: %v is outside the INT range [%d, %d]",
			domain.ErrInvalidWriteValue, v, math.MinInt16, math.MaxInt16)
	}
	return int16(f), nil
}

// RealFromValue converts a decoded JSON value to a REAL.
func RealFromValue(v interface{}) (float32, error) {
	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Errorf("%w: cannot convert %T to float32", domain.ErrInvalidWriteValue, v)
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, fmt.Errorf("%w: %v overflows REAL", domain.ErrInvalidWriteValue, v)
	}
	return float32(f), nil
}

// ByteFromValue converts a decoded JSON value to a single BYTE.
func ByteFromValue(v interface{}) (byte, error) {
	f, ok := toFloat64(v)
	if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %v is not a byte value", domain.ErrInvalidWriteValue, v)
	}
	return byte(f), nil
}

// =============================================================================
// Type Conversion Helpers
// =============================================================================

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int:
		return val != 0, true
	case int16:
		return val != 0, true
	case int32:
		return val != 0, true
	case int64:
		return val != 0, true
	case float32:
		return val != 0, true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
