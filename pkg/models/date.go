package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day component. All tariff
// windows are end-exclusive: a row effective [start, end) covers an
// import date d when start <= d < end. A nil end means the window is
// open (treated as +infinity).
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date from year/month/day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 date string (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %v", s, err)
	}
	return Date{t: t.UTC()}, nil
}

// MustDate parses s and panics on failure. Seed tables and tests only.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// DateFromTime truncates a timestamp to its UTC calendar date.
func DateFromTime(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func (d Date) IsZero() bool        { return d.t.IsZero() }
func (d Date) Before(o Date) bool  { return d.t.Before(o.t) }
func (d Date) After(o Date) bool   { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool   { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Time() time.Time     { return d.t }
func (d Date) String() string      { return d.t.Format(dateLayout) }

// WindowCovers reports whether d falls inside [start, end). A nil end is
// an open window.
func WindowCovers(d, start Date, end *Date) bool {
	if d.Before(start) {
		return false
	}
	if end != nil && !d.Before(*end) {
		return false
	}
	return true
}

// WindowsOverlap reports whether [aStart, aEnd) and [bStart, bEnd)
// intersect. Touching windows (a ends exactly where b starts) do not
// overlap.
func WindowsOverlap(aStart Date, aEnd *Date, bStart Date, bEnd *Date) bool {
	if aEnd != nil && !bStart.Before(*aEnd) {
		return false
	}
	if bEnd != nil && !aStart.Before(*bEnd) {
		return false
	}
	return true
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
