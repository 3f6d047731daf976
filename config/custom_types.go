/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// BytesCount is a size in bytes which may be written either as an integer or as a human-readable string ("250M").
type BytesCount uint64

// UnmarshalText parses both plain integers and human-readable sizes.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (b *BytesCount) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if num, err := strconv.ParseUint(s, 10, 64); err == nil {
		*b = BytesCount(num)
		return nil
	}
	num, err := bytefmt.ToBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	*b = BytesCount(num)
	return nil
}

// String returns the human-readable string representation.
func (b BytesCount) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// TimeDuration represents a time duration that can be parsed from JSON and YAML.
// Both integers (nanoseconds) and human-readable strings (e.g. "24h") are accepted.
type TimeDuration time.Duration

// UnmarshalJSON implements json.Unmarshaler interface.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.parse(strings.Trim(string(data), `"`))
}

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid time duration format: %v", value)
	}
	return d.parse(raw)
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *TimeDuration) parse(s string) error {
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		if num < 0 {
			return fmt.Errorf("negative value is not allowed: %d", num)
		}
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid time duration format (%s): %w", s, err)
	}
	if dur < 0 {
		return fmt.Errorf("negative value is not allowed: %s", s)
	}
	*d = TimeDuration(dur)
	return nil
}

// String returns the human-readable string representation.
func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes as a human-readable string in JSON.
func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
