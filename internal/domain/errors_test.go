package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConnectError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ConnectError{
		Target:   Target{Host: "192.168.7.2", Rack: 0, Slot: 1},
		Attempts: 3,
		Err:      cause,
	}

	msg := err.Error()
	for _, part := range []string{"192.168.7.2", "rack 0", "slot 1", "3 attempt", "connection refused"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q should contain %q", msg, part)
		}
	}
	if !errors.Is(err, ErrS7ConnectionFailed) {
		t.Error("ConnectError should match ErrS7ConnectionFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("ConnectError should unwrap to its cause")
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("ISO : An error occurred during recv TCP : Connection timed out")

	read := &TransportError{Op: OpRead, Access: "DB1.DBD4", Err: cause}
	if got := read.Error(); !strings.HasPrefix(got, "error reading DB1.DBD4: ") {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(read, ErrS7ReadFailed) || errors.Is(read, ErrS7WriteFailed) {
		t.Error("read TransportError should only match ErrS7ReadFailed")
	}

	write := &TransportError{Op: OpWrite, Access: "M0.1", Err: cause}
	if got := write.Error(); !strings.HasPrefix(got, "error writing M0.1: ") {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(write, ErrS7WriteFailed) {
		t.Error("write TransportError should match ErrS7WriteFailed")
	}
	if !errors.Is(write, cause) {
		t.Error("TransportError should unwrap to its cause")
	}
}

func TestAddressErrorMessage(t *testing.T) {
	err := &AddressError{Field: "area", Value: "FOO", Reason: "expected one of DB, INPUT, OUTPUT, MEMORY"}
	want := "s7: invalid address format: area FOO: expected one of DB, INPUT, OUTPUT, MEMORY"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &AddressError{Reason: "unrecognized"}
	if got := bare.Error(); got != "s7: invalid address format: unrecognized" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"connect", &ConnectError{Attempts: 1, Err: errors.New("x")}, KindConnect},
		{"not connected", fmt.Errorf("%w: cannot read DB1.DBD0", ErrNotConnected), KindNotConnected},
		{"address", &AddressError{Field: "bit_offset", Value: 9, Reason: "range"}, KindAddress},
		{"value", fmt.Errorf("%w: too big", ErrInvalidWriteValue), KindValue},
		{"data type", fmt.Errorf("%w: \"dint\"", ErrInvalidDataType), KindValue},
		{"transport", &TransportError{Op: OpRead, Access: "MW0", Err: errors.New("x")}, KindTransport},
		{"wrapped transport", fmt.Errorf("api: %w", &TransportError{Op: OpWrite, Err: errors.New("x")}), KindTransport},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind() = %q, want %q", got, tt.want)
			}
		})
	}
}
