package s7

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// =============================================================================
// Bit Access Tests
// =============================================================================

func TestGetBit(t *testing.T) {
	tests := []struct {
		b    byte
		bit  int
		want bool
	}{
		{0x01, 0, true},
		{0x01, 1, false},
		{0x80, 7, true},
		{0x7F, 7, false},
		{0xA5, 2, true},
		{0xA5, 3, false},
	}

	for _, tt := range tests {
		if got := GetBit(tt.b, tt.bit); got != tt.want {
			t.Errorf("GetBit(%08b, %d) = %v, want %v", tt.b, tt.bit, got, tt.want)
		}
	}
}

func TestSetBit(t *testing.T) {
	tests := []struct {
		name  string
		b     byte
		bit   int
		value bool
		want  byte
	}{
		{"set bit 0", 0x00, 0, true, 0x01},
		{"set bit 7", 0x00, 7, true, 0x80},
		{"set already set", 0x04, 2, true, 0x04},
		{"clear bit 2", 0xFF, 2, false, 0xFB},
		{"clear already clear", 0xA5, 1, false, 0xA5},
		{"siblings kept on set", 0xA5, 1, true, 0xA7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SetBit(tt.b, tt.bit, tt.value); got != tt.want {
				t.Errorf("SetBit(%08b, %d, %v) = %08b, want %08b", tt.b, tt.bit, tt.value, got, tt.want)
			}
		})
	}
}

// =============================================================================
// INT / REAL Codec Tests
// =============================================================================

func TestIntCodec(t *testing.T) {
	tests := []struct {
		value int16
		raw   []byte
	}{
		{0, []byte{0x00, 0x00}},
		{1, []byte{0x00, 0x01}},
		{-1, []byte{0xFF, 0xFF}},
		{-2, []byte{0xFF, 0xFE}},
		{math.MaxInt16, []byte{0x7F, 0xFF}},
		{math.MinInt16, []byte{0x80, 0x00}},
	}

	for _, tt := range tests {
		if got := EncodeInt(tt.value); !bytes.Equal(got, tt.raw) {
			t.Errorf("EncodeInt(%d) = % X, want % X", tt.value, got, tt.raw)
		}
		got, err := DecodeInt(tt.raw)
		if err != nil || got != tt.value {
			t.Errorf("DecodeInt(% X) = %d, %v; want %d", tt.raw, got, err, tt.value)
		}
	}
}

func TestRealCodec(t *testing.T) {
	tests := []struct {
		value float32
		raw   []byte
	}{
		{0, []byte{0x00, 0x00, 0x00, 0x00}},
		{1, []byte{0x3F, 0x80, 0x00, 0x00}},
		{3.5, []byte{0x40, 0x60, 0x00, 0x00}},
		{-2, []byte{0xC0, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		if got := EncodeReal(tt.value); !bytes.Equal(got, tt.raw) {
			t.Errorf("EncodeReal(%v) = % X, want % X", tt.value, got, tt.raw)
		}
		got, err := DecodeReal(tt.raw)
		if err != nil || got != tt.value {
			t.Errorf("DecodeReal(% X) = %v, %v; want %v", tt.raw, got, err, tt.value)
		}
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	if _, err := DecodeInt([]byte{0x01}); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("DecodeInt short buffer: expected ErrInvalidDataLength, got %v", err)
	}
	if _, err := DecodeReal([]byte{0x01, 0x02, 0x03}); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("DecodeReal short buffer: expected ErrInvalidDataLength, got %v", err)
	}
}

// =============================================================================
// Value Conversion Tests
// =============================================================================

func TestIntFromValue(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int16
		wantErr bool
	}{
		{"float64 integral", float64(1200), 1200, false},
		{"int", 42, 42, false},
		{"min", float64(math.MinInt16), math.MinInt16, false},
		{"max", float64(math.MaxInt16), math.MaxInt16, false},
		{"above range", float64(40000), 0, true},
		{"below range", -32769, 0, true},
		{"fraction", 1.5, 0, true},
		{"string", "12", 0, true},
		{"nil", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntFromValue(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IntFromValue(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidWriteValue) {
				t.Errorf("expected ErrInvalidWriteValue, got %v", err)
			}
			if got != tt.want {
				t.Errorf("IntFromValue(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestRealFromValue(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    float32
		wantErr bool
	}{
		{"float64", 21.25, 21.25, false},
		{"int", 7, 7, false},
		{"float32", float32(-0.5), -0.5, false},
		{"overflow", 1e39, 0, true},
		{"string", "3.5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RealFromValue(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RealFromValue(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RealFromValue(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestBoolFromValue(t *testing.T) {
	tests := []struct {
		value   interface{}
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{false, false, false},
		{float64(1), true, false},
		{float64(0), false, false},
		{"true", false, true},
		{nil, false, true},
	}

	for _, tt := range tests {
		got, err := BoolFromValue(tt.value)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("BoolFromValue(%v) = %v, %v; want %v, wantErr %v", tt.value, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestByteFromValue(t *testing.T) {
	tests := []struct {
		value   interface{}
		want    byte
		wantErr bool
	}{
		{float64(0), 0, false},
		{float64(255), 255, false},
		{200, 200, false},
		{float64(256), 0, true},
		{-1, 0, true},
		{2.5, 0, true},
	}

	for _, tt := range tests {
		got, err := ByteFromValue(tt.value)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ByteFromValue(%v) = %d, %v; want %d, wantErr %v", tt.value, got, err, tt.want, tt.wantErr)
		}
	}
}

// =============================================================================
// Buffer Pool Tests
// =============================================================================

func TestBufferPool(t *testing.T) {
	for _, size := range []int{1, 2, 4, 16} {
		buf := BufferPool.Get(size)
		if len(buf) != size {
			t.Errorf("Get(%d) returned len %d", size, len(buf))
		}
		for i := range buf {
			buf[i] = 0xFF
		}
		BufferPool.Put(buf)

		again := BufferPool.Get(size)
		for i, b := range again {
			if b != 0 {
				t.Errorf("Get(%d) returned dirty byte %d at %d", size, b, i)
			}
		}
		BufferPool.Put(again)
	}
}

func BenchmarkDecodeReal(b *testing.B) {
	data := EncodeReal(42.42)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeReal(data)
	}
}

func BenchmarkEncodeInt(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = EncodeInt(int16(i))
	}
}

func BenchmarkRealFromValue(b *testing.B) {
	var v interface{} = float64(42.42)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = RealFromValue(v)
	}
}
