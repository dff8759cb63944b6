package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTagValidate(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		wantErr bool
	}{
		{"valid", Tag{Name: "tank_level", Address: "DB1.DBD0"}, false},
		{"missing name", Tag{Address: "DB1.DBD0"}, true},
		{"blank name", Tag{Name: "  ", Address: "DB1.DBD0"}, true},
		{"missing address", Tag{Name: "tank_level"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tag.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestTagValueJSON(t *testing.T) {
	v := TagValue{
		Name:      "tank_level",
		Address:   "DB1.DBD0",
		Value:     float32(12.5),
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"name":"tank_level","address":"DB1.DBD0","value":12.5,"timestamp":"2024-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}
