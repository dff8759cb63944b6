package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tag is a named PLC location that is polled on a schedule.
type Tag struct {
	// Name identifies the tag in published topics
	Name string `json:"name" mapstructure:"name"`

	// Address is an S7 symbolic address such as DB1.DBD0, MW4 or I0.1
	Address string `json:"address" mapstructure:"address"`
}

// Validate checks that the tag is usable. The address syntax is checked by
// the S7 resolver.
func (t Tag) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: tag name is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("%w: tag %q has no address", ErrInvalidConfig, t.Name)
	}
	return nil
}

// TagValue is one reading of a polled tag.
type TagValue struct {
	Name      string      `json:"name"`
	Address   string      `json:"address"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}
