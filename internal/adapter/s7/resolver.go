package s7

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// ParseArea resolves an area token (DB, INPUT, OUTPUT or MEMORY, any case).
func ParseArea(token string) (domain.Area, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "DB":
		return domain.AreaDB, nil
	case "INPUT":
		return domain.AreaInput, nil
	case "OUTPUT":
		return domain.AreaOutput, nil
	case "MEMORY":
		return domain.AreaMemory, nil
	}
	return 0, &domain.AddressError{Field: "area", Value: token, Reason: "expected one of DB, INPUT, OUTPUT, MEMORY"}
}

// ResolveArea turns a loosely-typed raw area request into a validated address.
// dbNumber is ignored for every area but DB.
func ResolveArea(token string, dbNumber, start, size int) (domain.Address, error) {
	area, err := ParseArea(token)
	if err != nil {
		return domain.Address{}, err
	}
	if area != domain.AreaDB {
		dbNumber = 0
	}
	addr := domain.RangeAddress(area, dbNumber, start, size)
	if err := addr.Validate(); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// Symbolic address patterns.
var (
	// DB1.DBX0.3, DB1.DBB8, DB1.DBW4, DB1.DBD0
	reDBAddress = regexp.MustCompile(`^DB(\d+)\.DB([XBWD])(\d+)(?:\.(\d+))?$`)

	// M0.0, MB0, MW0, MD0 and the same for I/E (inputs) and Q/A (outputs)
	reAreaAddress = regexp.MustCompile(`^([MIEQA])([XBWD])?(\d+)(?:\.(\d+))?$`)
)

// ParseSymbolic parses an S7 address such as "DB1.DBD0", "MW100" or "I0.0"
// and infers the value kind from its size letter: X or a bit suffix is a
// BOOL, B a single byte, W an INT and D a REAL.
func ParseSymbolic(address string) (domain.Address, domain.ValueKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(address))

	var (
		area     domain.Area
		dbNumber int
		sizeChar string
		offset   string
		bit      string
	)
	if m := reDBAddress.FindStringSubmatch(normalized); m != nil {
		area = domain.AreaDB
		dbNumber, _ = strconv.Atoi(m[1])
		sizeChar, offset, bit = m[2], m[3], m[4]
	} else if m := reAreaAddress.FindStringSubmatch(normalized); m != nil {
		switch m[1] {
		case "M":
			area = domain.AreaMemory
		case "I", "E":
			area = domain.AreaInput
		case "Q", "A":
			area = domain.AreaOutput
		}
		sizeChar, offset, bit = m[2], m[3], m[4]
		if sizeChar == "" {
			sizeChar = "X"
		}
	} else {
		return domain.Address{}, 0, &domain.AddressError{Field: "address", Value: address, Reason: "unrecognized S7 address"}
	}

	byteOffset, err := strconv.Atoi(offset)
	if err != nil {
		return domain.Address{}, 0, &domain.AddressError{Field: "address", Value: address, Reason: "offset out of range"}
	}

	var (
		addr domain.Address
		kind domain.ValueKind
	)
	switch sizeChar {
	case "X":
		if bit == "" {
			return domain.Address{}, 0, &domain.AddressError{Field: "address", Value: address, Reason: "bit access needs a bit number"}
		}
		bitNum, err := strconv.Atoi(bit)
		if err != nil {
			return domain.Address{}, 0, &domain.AddressError{Field: "address", Value: address, Reason: "bit number out of range"}
		}
		kind = domain.KindBool
		addr = domain.BitAddress(area, dbNumber, byteOffset, bitNum)
	case "B", "W", "D":
		if bit != "" {
			return domain.Address{}, 0, &domain.AddressError{Field: "address", Value: address, Reason: "bit number only allowed on bit access"}
		}
		kind = map[string]domain.ValueKind{"B": domain.KindBytes, "W": domain.KindInt, "D": domain.KindReal}[sizeChar]
		addr = domain.ValueAddress(area, dbNumber, byteOffset, kind)
	}

	if err := addr.Validate(); err != nil {
		return domain.Address{}, 0, err
	}
	return addr, kind, nil
}
