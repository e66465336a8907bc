package domain

import (
	"fmt"
	"strings"
	"time"
)

// Unit is a recurrence interval unit.
type Unit string

const (
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
)

func (u Unit) duration() time.Duration {
	switch u {
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	}
	return time.Hour
}

// WeekdayMask is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdayMask uint8

const (
	MaskNone     WeekdayMask = 0
	MaskWeekdays WeekdayMask = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday |
		1<<time.Thursday | 1<<time.Friday
	MaskWeekend WeekdayMask = 1<<time.Saturday | 1<<time.Sunday
	MaskAll     WeekdayMask = MaskWeekdays | MaskWeekend
)

// Allows reports whether the mask permits the given weekday. The zero mask
// means no day constraint and allows everything.
func (m WeekdayMask) Allows(d time.Weekday) bool {
	if m == MaskNone {
		return true
	}
	return m&(1<<d) != 0
}

// RecurrenceRule defines when a follow-up reminder on a task is eligible to
// fire: every Interval Units, optionally constrained to a time-of-day window
// and a weekday mask. FromM/ToM are minutes since midnight in the target
// user's timezone; FromM == ToM == 0 means no window constraint.
type RecurrenceRule struct {
	Interval  int
	Unit      Unit
	FromM     int
	ToM       int
	Days      WeekdayMask
	LastFired *time.Time // UTC
}

// HasWindow reports whether the rule carries a time-of-day constraint.
func (r *RecurrenceRule) HasWindow() bool {
	return !(r.FromM == 0 && r.ToM == 0)
}

// Every is the rule's base interval between fires.
func (r *RecurrenceRule) Every() time.Duration {
	n := r.Interval
	if n <= 0 {
		n = 1
	}
	return time.Duration(n) * r.Unit.duration()
}

// InWindow returns true if local time (minutes since midnight) is inside the
// active window. Supports wrap-around windows like 22:00–02:00 (fromM > toM).
func InWindow(localM, fromM, toM int) bool {
	if fromM == toM {
		return false // zero-length window
	}
	if fromM < toM {
		return localM >= fromM && localM < toM
	}
	// wrap: [from..1440) U [0..to)
	return localM >= fromM || localM < toM
}

// eligible reports whether the rule permits firing at local time t.
func (r *RecurrenceRule) eligible(t time.Time) bool {
	if !r.Days.Allows(t.Weekday()) {
		return false
	}
	if !r.HasWindow() {
		return true
	}
	return InWindow(t.Hour()*60+t.Minute(), r.FromM, r.ToM)
}

// Next computes the next eligible fire time in UTC, as a pure function of the
// rule, its last-fired timestamp and now. A rule that has never fired is due
// at the first eligible instant at or after now. The result is monotonically
// non-decreasing across ticks as long as LastFired only advances.
func (r *RecurrenceRule) Next(nowUTC time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	candidate := nowUTC
	if r.LastFired != nil {
		candidate = r.LastFired.Add(r.Every())
	}

	local := candidate.In(loc)
	if r.eligible(local) {
		return candidate.UTC()
	}
	return r.nextStart(local).UTC()
}

// nextStart finds the first window opening at or after the local time t,
// honoring the weekday mask. With no window the opening is midnight.
func (r *RecurrenceRule) nextStart(t time.Time) time.Time {
	startM := 0
	if r.HasWindow() {
		startM = r.FromM
	}
	for day := 0; day < 8; day++ {
		base := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).
			AddDate(0, 0, day)
		if !r.Days.Allows(base.Weekday()) {
			continue
		}
		start := base.Add(time.Duration(startM) * time.Minute)
		if !start.Before(t) {
			return start
		}
	}
	// Unreachable with a sane mask; fall back a week out.
	return t.AddDate(0, 0, 7)
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// Describe renders the rule back into human-readable text for replies, e.g.
// "every 2 hours during business hours on weekdays".
func (r *RecurrenceRule) Describe() string {
	var b strings.Builder
	if r.Interval <= 1 {
		b.WriteString("every " + string(r.Unit))
	} else {
		fmt.Fprintf(&b, "every %d %ss", r.Interval, r.Unit)
	}
	if r.HasWindow() {
		if r.FromM == businessFromM && r.ToM == businessToM {
			b.WriteString(" during business hours")
		} else {
			fmt.Fprintf(&b, " between %s and %s", FormatMinutes(r.FromM), FormatMinutes(r.ToM))
		}
	}
	switch r.Days {
	case MaskNone, MaskAll:
	case MaskWeekdays:
		if !(r.FromM == businessFromM && r.ToM == businessToM) {
			b.WriteString(" on weekdays")
		}
	case MaskWeekend:
		b.WriteString(" on weekends")
	default:
		names := make([]string, 0, 7)
		for d := time.Sunday; d <= time.Saturday; d++ {
			if r.Days&(1<<d) != 0 {
				names = append(names, d.String())
			}
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	return b.String()
}
