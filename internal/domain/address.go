package domain

import (
	"fmt"
	"strings"
)

// Area is an S7 memory area reachable through the bridge.
type Area int

const (
	AreaDB     Area = iota // Data blocks
	AreaInput              // Process image inputs (I/E)
	AreaOutput             // Process image outputs (Q/A)
	AreaMemory             // Merkers (M)
)

// Areas lists every supported area in a stable order.
var Areas = []Area{AreaDB, AreaInput, AreaOutput, AreaMemory}

// String returns the area token accepted by the HTTP API.
func (a Area) String() string {
	switch a {
	case AreaDB:
		return "DB"
	case AreaInput:
		return "INPUT"
	case AreaOutput:
		return "OUTPUT"
	case AreaMemory:
		return "MEMORY"
	default:
		return fmt.Sprintf("Area(%d)", int(a))
	}
}

// prefix is the single-letter S7 mnemonic of the area.
func (a Area) prefix() string {
	switch a {
	case AreaInput:
		return "I"
	case AreaOutput:
		return "Q"
	case AreaMemory:
		return "M"
	default:
		return "DB"
	}
}

// Valid reports whether a is one of the known areas.
func (a Area) Valid() bool {
	return a >= AreaDB && a <= AreaMemory
}

// ValueKind is the PLC value type of a typed access.
type ValueKind int

const (
	KindBool  ValueKind = iota // BOOL, one bit
	KindInt                    // INT, 16-bit signed
	KindReal                   // REAL, 32-bit IEEE-754
	KindBytes                  // raw bytes
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// ParseValueKind maps a type name (any case) to a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool":
		return KindBool, nil
	case "int":
		return KindInt, nil
	case "real":
		return KindReal, nil
	case "bytes":
		return KindBytes, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDataType, s)
}

// Size returns the number of bytes a value of kind k occupies.
func (k ValueKind) Size() int {
	switch k {
	case KindInt:
		return 2
	case KindReal:
		return 4
	default:
		return 1
	}
}

// NoBit marks an address that is not a bit access.
const NoBit = -1

// MaxAreaSize bounds raw area transfers.
const MaxAreaSize = 65535

// Address is a validated location in PLC memory.
type Address struct {
	Area     Area
	DBNumber int // only meaningful for AreaDB
	Offset   int // byte offset
	Bit      int // 0-7, or NoBit
	Size     int // bytes
}

// Validate checks the shape of the address. It does not know the real size
// of the PLC's memory; the PLC rejects out-of-range accesses itself.
func (a Address) Validate() error {
	if !a.Area.Valid() {
		return &AddressError{Field: "area", Value: int(a.Area), Reason: "unknown memory area"}
	}
	if a.Area == AreaDB && a.DBNumber < 1 {
		return &AddressError{Field: "db_number", Value: a.DBNumber, Reason: "data block number is required and must be at least 1"}
	}
	if a.Offset < 0 {
		return &AddressError{Field: "offset", Value: a.Offset, Reason: "must not be negative"}
	}
	if a.Bit != NoBit && (a.Bit < 0 || a.Bit > 7) {
		return &AddressError{Field: "bit_offset", Value: a.Bit, Reason: "must be between 0 and 7"}
	}
	if a.Size < 1 || a.Size > MaxAreaSize {
		return &AddressError{Field: "size", Value: a.Size, Reason: fmt.Sprintf("must be between 1 and %d", MaxAreaSize)}
	}
	return nil
}

// String renders the address in S7 notation, e.g. DB5.DBX0.3, DB1.DBD4, M10.2
// or IB0[16] for raw transfers.
func (a Address) String() string {
	var b strings.Builder
	if a.Area == AreaDB {
		fmt.Fprintf(&b, "DB%d.DB", a.DBNumber)
	} else {
		b.WriteString(a.Area.prefix())
	}

	switch {
	case a.Bit != NoBit:
		if a.Area == AreaDB {
			b.WriteString("X")
		}
		fmt.Fprintf(&b, "%d.%d", a.Offset, a.Bit)
	case a.Size == 2:
		fmt.Fprintf(&b, "W%d", a.Offset)
	case a.Size == 4:
		fmt.Fprintf(&b, "D%d", a.Offset)
	case a.Size == 1:
		fmt.Fprintf(&b, "B%d", a.Offset)
	default:
		fmt.Fprintf(&b, "B%d[%d]", a.Offset, a.Size)
	}
	return b.String()
}

// BitAddress builds a single-bit address.
func BitAddress(area Area, dbNumber, byteOffset, bit int) Address {
	return Address{Area: area, DBNumber: dbNumber, Offset: byteOffset, Bit: bit, Size: 1}
}

// ValueAddress builds the address of a value of the given kind.
func ValueAddress(area Area, dbNumber, offset int, kind ValueKind) Address {
	return Address{Area: area, DBNumber: dbNumber, Offset: offset, Bit: NoBit, Size: kind.Size()}
}

// RangeAddress builds the address of a raw byte range.
func RangeAddress(area Area, dbNumber, start, size int) Address {
	return Address{Area: area, DBNumber: dbNumber, Offset: start, Bit: NoBit, Size: size}
}
