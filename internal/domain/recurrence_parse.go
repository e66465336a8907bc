package domain

import (
	"strconv"
	"strings"
	"time"
)

// Named time-of-day windows, minutes since midnight.
const (
	businessFromM = 9 * 60
	businessToM   = 17 * 60
	workFromM     = 8 * 60
	workToM       = 18 * 60
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseRecurrence parses the small recurrence grammar
//
//	every <N> <unit> [during <window-name|hh:mm-hh:mm>] [on <days>]
//
// into a RecurrenceRule. Unit is minute, hour or day. The named windows
// "business hours" (09:00–17:00, implies weekdays) and "work hours"
// (08:00–18:00, implies weekdays) are recognized. Any unmatched token fails
// with a ParseError naming the offending fragment; a partially built rule is
// never returned.
func ParseRecurrence(phrase string) (*RecurrenceRule, error) {
	p := &recurParser{toks: strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))}
	if len(p.toks) == 0 {
		return nil, parseErr("", "empty recurrence phrase")
	}

	rule, err := p.parse()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, parseErr(strings.Join(p.toks[p.idx:], " "), "unexpected trailing input")
	}
	return rule, nil
}

type recurParser struct {
	toks []string
	idx  int
}

func (p *recurParser) done() bool { return p.idx >= len(p.toks) }

func (p *recurParser) peek() string {
	if p.done() {
		return ""
	}
	return p.toks[p.idx]
}

func (p *recurParser) next() string {
	t := p.peek()
	p.idx++
	return t
}

func (p *recurParser) parse() (*RecurrenceRule, error) {
	if tok := p.next(); tok != "every" {
		return nil, parseErr(tok, `expected "every"`)
	}

	rule := &RecurrenceRule{Interval: 1}

	// Optional count.
	if n, err := strconv.Atoi(p.peek()); err == nil {
		if n <= 0 {
			return nil, parseErr(p.peek(), "interval must be positive")
		}
		rule.Interval = n
		p.idx++
	}

	unit, err := parseUnit(p.next())
	if err != nil {
		return nil, err
	}
	rule.Unit = unit

	for !p.done() {
		switch tok := p.next(); tok {
		case "during":
			if err := p.parseWindow(rule); err != nil {
				return nil, err
			}
		case "between":
			if err := p.parseBetween(rule); err != nil {
				return nil, err
			}
		case "on":
			if err := p.parseDays(rule); err != nil {
				return nil, err
			}
		default:
			return nil, parseErr(tok, `expected "during", "between" or "on"`)
		}
	}
	return rule, nil
}

func parseUnit(tok string) (Unit, error) {
	switch tok {
	case "minute", "minutes", "min", "mins":
		return UnitMinute, nil
	case "hour", "hours", "hr", "hrs":
		return UnitHour, nil
	case "day", "days":
		return UnitDay, nil
	case "":
		return "", parseErr("", "missing interval unit")
	}
	return "", parseErr(tok, "unknown interval unit")
}

func (p *recurParser) parseWindow(rule *RecurrenceRule) error {
	tok := p.next()
	switch tok {
	case "business", "work", "working":
		if h := p.next(); h != "hours" && h != "hour" {
			return parseErr(h, `expected "hours" after `+strconv.Quote(tok))
		}
		if tok == "business" {
			rule.FromM, rule.ToM = businessFromM, businessToM
		} else {
			rule.FromM, rule.ToM = workFromM, workToM
		}
		if rule.Days == MaskNone {
			rule.Days = MaskWeekdays
		}
		return nil
	case "":
		return parseErr("", "missing window after during")
	}

	fromM, toM, err := parseWindowRange(tok)
	if err != nil {
		return err
	}
	rule.FromM, rule.ToM = fromM, toM
	return nil
}

// parseBetween handles "between 9am and 5pm" / "between 09:00 and 17:00".
func (p *recurParser) parseBetween(rule *RecurrenceRule) error {
	fromM, err := parseClock(p.next())
	if err != nil {
		return err
	}
	if tok := p.next(); tok != "and" {
		return parseErr(tok, `expected "and"`)
	}
	toM, err := parseClock(p.next())
	if err != nil {
		return err
	}
	rule.FromM, rule.ToM = fromM, toM
	return nil
}

// parseWindowRange parses "hh:mm-hh:mm" (en dash accepted).
func parseWindowRange(s string) (fromM, toM int, err error) {
	sep := "-"
	if strings.Contains(s, "–") {
		sep = "–"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, parseErr(s, "expected window as HH:MM-HH:MM")
	}
	if fromM, err = parseClock(parts[0]); err != nil {
		return 0, 0, err
	}
	if toM, err = parseClock(parts[1]); err != nil {
		return 0, 0, err
	}
	return fromM, toM, nil
}

// parseClock parses "HH:MM", "9am", "5pm" or a bare hour into minutes since
// midnight.
func parseClock(s string) (int, error) {
	orig := s
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, parseErr("", "missing time of day")
	}

	pm := strings.HasSuffix(s, "pm")
	am := strings.HasSuffix(s, "am")
	if pm || am {
		s = strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am")
	}

	h, m := 0, 0
	if strings.Contains(s, ":") {
		parts := strings.SplitN(s, ":", 2)
		hh, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, parseErr(orig, "invalid hour")
		}
		mm, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, parseErr(orig, "invalid minute")
		}
		h, m = hh, mm
	} else {
		hh, err := strconv.Atoi(s)
		if err != nil {
			return 0, parseErr(orig, "invalid time of day")
		}
		h = hh
	}

	if pm && h != 12 {
		h += 12
	}
	if am && h == 12 {
		h = 0
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, parseErr(orig, "time of day out of range")
	}
	return h*60 + m, nil
}

func (p *recurParser) parseDays(rule *RecurrenceRule) error {
	tok := p.next()
	switch tok {
	case "weekdays", "weekday":
		rule.Days = MaskWeekdays
		return nil
	case "weekends", "weekend":
		rule.Days = MaskWeekend
		return nil
	case "":
		return parseErr("", "missing days after on")
	}

	// Explicit day list: "monday and wednesday", "mondays, fridays".
	mask := MaskNone
	for {
		day, ok := weekdayNames[strings.TrimSuffix(strings.Trim(tok, ","), "s")]
		if !ok {
			return parseErr(tok, "unknown weekday")
		}
		mask |= 1 << day

		if p.done() {
			break
		}
		tok = p.next()
		if tok == "and" {
			tok = p.next()
		}
	}
	rule.Days = mask
	return nil
}
