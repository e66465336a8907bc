package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeRe = regexp.MustCompile(`^in\s+(-?\d+)\s*(minute|minutes|min|mins|hour|hours|hr|hrs|day|days)$`)
	agoRe      = regexp.MustCompile(`\bago$`)
	dayAtRe    = regexp.MustCompile(`^(next\s+|this\s+)?([a-z]+)(\s+at\s+(\S+))?$`)
)

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ResolveTime turns a free-text time phrase into a UTC instant. Absolute
// calendar expressions are tried first (ISO-like dates, today/tomorrow,
// weekday names with an optional clock), then relative offsets ("in 15
// minutes"). A bare weekday resolves to the next occurrence strictly after
// now. Phrases denoting the past, and zero or negative offsets, fail with a
// ParseError. now may be in any zone; loc is the user's timezone used to
// interpret calendar expressions.
func ResolveTime(phrase string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.Join(strings.Fields(p), " ") // collapse whitespace
	if p == "" {
		return time.Time{}, parseErr("", "empty time phrase")
	}

	localNow := now.In(loc)

	// ISO-like absolute dates.
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, strings.ToUpper(p), loc)
		if err != nil {
			continue
		}
		if !t.After(localNow) {
			return time.Time{}, parseErr(phrase, "time is in the past")
		}
		return t.UTC(), nil
	}

	// Explicitly past phrases.
	if p == "yesterday" || agoRe.MatchString(p) {
		return time.Time{}, parseErr(phrase, "time is in the past")
	}

	// Relative offsets.
	if m := relativeRe.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return time.Time{}, parseErr(phrase, "offset must be positive")
		}
		unit, err := parseUnit(m[2])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(time.Duration(n) * unit.duration()).UTC(), nil
	}

	// today / tomorrow / weekday, each with an optional "at HH:MM" clause.
	if m := dayAtRe.FindStringSubmatch(p); m != nil {
		word, clockStr := m[2], m[4]
		if t, ok, err := resolveDayWord(word, clockStr, localNow); err != nil {
			return time.Time{}, err
		} else if ok {
			return t.UTC(), nil
		}
	}

	// Bare clock: "at 5pm", "17:30", "5pm".
	clockStr := strings.TrimPrefix(p, "at ")
	if m, err := parseClock(clockStr); err == nil {
		t := atMinutes(localNow, m)
		if !t.After(localNow) {
			t = t.AddDate(0, 0, 1) // earliest future occurrence
		}
		return t.UTC(), nil
	}

	return time.Time{}, parseErr(phrase, "unrecognized time phrase")
}

// resolveDayWord handles "today", "tomorrow" and weekday names. ok is false
// when word is not a day word at all, letting the caller try other forms.
func resolveDayWord(word, clockStr string, localNow time.Time) (time.Time, bool, error) {
	clockM := 9 * 60 // date without a clock defaults to 09:00 local
	if clockStr != "" {
		m, err := parseClock(clockStr)
		if err != nil {
			return time.Time{}, true, err
		}
		clockM = m
	}

	switch word {
	case "today":
		t := atMinutes(localNow, clockM)
		if !t.After(localNow) {
			return time.Time{}, true, parseErr(word, "time is in the past")
		}
		return t, true, nil
	case "tomorrow":
		return atMinutes(localNow.AddDate(0, 0, 1), clockM), true, nil
	}

	day, ok := weekdayNames[strings.TrimSuffix(word, "s")]
	if !ok {
		return time.Time{}, false, nil
	}

	// A bare weekday always means the next upcoming occurrence strictly after
	// now, never a day already passed this week.
	t := atMinutes(localNow, clockM)
	for !t.After(localNow) || t.Weekday() != day {
		t = t.AddDate(0, 0, 1)
	}
	return t, true, nil
}

// atMinutes returns base's date at the given minutes since midnight.
func atMinutes(base time.Time, mins int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), mins/60, mins%60, 0, 0, base.Location())
}
