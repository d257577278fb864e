package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday numbers the days Monday first. It differs from time.Weekday, which
// starts on Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if s == name {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Clock is a wall-clock time of day in minutes since local midnight. 24:00 is
// allowed as an end of day marker.
type Clock int

const (
	MinutesPerDay       = 24 * 60
	EndOfDay      Clock = MinutesPerDay
)

func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock reads a wall-clock time written as H:MM or HH:MM. 24:00 is
// accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !isDigits(hh, 1, 2) || !isDigits(mm, 2, 2) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	c := NewClock(h, m)
	if m > 59 || c > EndOfDay {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return c, nil
}

func isDigits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// On returns the instant at which this wall-clock time falls on date's
// calendar day in loc. EndOfDay maps to the next midnight.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

func (c Clock) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type BreakWindow struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

type DayTemplate struct {
	IsActive bool         `json:"is_active"`
	Start    Clock        `json:"start"`
	End      Clock        `json:"end"`
	Break    *BreakWindow `json:"break,omitempty"`
}

// WeeklyTemplate is a provider's recurring availability, one entry per
// Weekday. The zero value has every day inactive.
type WeeklyTemplate struct {
	ProviderID string         `json:"provider_id"`
	Days       [7]DayTemplate `json:"days"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (t WeeklyTemplate) Day(d Weekday) DayTemplate {
	if !d.Valid() {
		return DayTemplate{}
	}
	return t.Days[d]
}

// Validate checks the ordering rules of every active day. Inactive days are
// accepted as-is.
func (t WeeklyTemplate) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(t.ProviderID) == "" {
		fields["provider_id"] = "required"
	}
	for i, day := range t.Days {
		if !day.IsActive {
			continue
		}
		name := Weekday(i).String()
		if day.Start < 0 || day.End > EndOfDay || day.Start >= day.End {
			fields[name] = "start must be before end"
			continue
		}
		if b := day.Break; b != nil {
			if b.Start < day.Start || b.Start >= b.End || b.End > day.End {
				fields[name+".break"] = "break must lie within working hours and start before it ends"
			}
		}
	}
	if len(fields) > 0 {
		return Validation(fields)
	}
	return nil
}
