package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is an upper-case day name used in offering schedules.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

// ClockTime is a time of day expressed in minutes after midnight.
type ClockTime int

// ParseClockTime parses an HH:MM string.
func ParseClockTime(raw string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", raw, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// MustClockTime is ParseClockTime for literals.
func MustClockTime(raw string) ClockTime {
	ct, err := ParseClockTime(raw)
	if err != nil {
		panic(err)
	}
	return ct
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON renders the time as "HH:MM".
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts "HH:MM".
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("clock time must be a HH:MM string: %w", err)
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ScheduleSlot is one weekly meeting of an offering.
type ScheduleSlot struct {
	Day   Weekday   `db:"day" json:"day"`
	Start ClockTime `db:"start_minute" json:"start"`
	End   ClockTime `db:"end_minute" json:"end"`
}

// Overlaps reports whether two slots share a day and intersect as open
// intervals; touching endpoints do not overlap.
func (s ScheduleSlot) Overlaps(other ScheduleSlot) bool {
	if !strings.EqualFold(string(s.Day), string(other.Day)) {
		return false
	}
	return s.Start < other.End && other.Start < s.End
}

func (s ScheduleSlot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Day, s.Start, s.End)
}
