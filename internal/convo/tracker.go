// Package convo tracks a short per-user window of recent intents and created
// references so that referring phrases like "it" or "that task" can be
// resolved to a concrete object. The window is purely in-process and never
// outlives the process.
package convo

import (
	"strings"
	"sync"
	"time"

	"aide/internal/domain"
)

// Kind of object a reference points at.
type Kind string

const (
	KindTask     Kind = "task"
	KindReminder Kind = "reminder"
)

// Ref identifies an object created or mentioned in a recent turn.
type Ref struct {
	Kind Kind
	ID   string
}

// Observation is one (intent, reference) pair from a processed sub-command.
type Observation struct {
	Intent string
	Ref    *Ref
}

type entry struct {
	intent string
	ref    *Ref
	turn   uint64
	at     time.Time
}

type window struct {
	entries []entry // oldest first
	turn    uint64
}

// Tracker keeps the last K entries per user, or entries younger than the TTL,
// whichever is stricter. Eviction is oldest-first and never errors.
type Tracker struct {
	mu    sync.Mutex
	users map[int64]*window

	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// Option tweaks a Tracker, mainly for deterministic tests.
type Option func(*Tracker)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLimits overrides the entry count and age bounds.
func WithLimits(maxEntries int, ttl time.Duration) Option {
	return func(t *Tracker) {
		t.maxEntries = maxEntries
		t.ttl = ttl
	}
}

// New creates a Tracker with the default bounds (5 entries, 10 minutes).
func New(opts ...Option) *Tracker {
	t := &Tracker{
		users:      make(map[int64]*window),
		maxEntries: 5,
		ttl:        10 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Observe records the outcome of one inbound message. All observations from
// the same message share a turn, so two same-kind references created in one
// turn resolve ambiguous rather than guessing between them.
func (t *Tracker) Observe(userID int64, obs []Observation) {
	if len(obs) == 0 {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.users[userID]
	if w == nil {
		w = &window{}
		t.users[userID] = w
	}
	w.turn++

	for _, o := range obs {
		w.entries = append(w.entries, entry{intent: o.Intent, ref: o.Ref, turn: w.turn, at: now})
	}
	t.evict(w, now)
}

func (t *Tracker) evict(w *window, now time.Time) {
	cutoff := now.Add(-t.ttl)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if n := len(kept) - t.maxEntries; n > 0 {
		kept = kept[n:]
	}
	w.entries = append([]entry(nil), kept...)
}

// Resolve maps a referring phrase to the most recent compatible reference.
// Two equally recent candidates of the same kind fail with
// ErrAmbiguousReference; no candidate at all fails with ErrNotFound.
func (t *Tracker) Resolve(userID int64, phrase string) (Ref, error) {
	want := wantedKind(phrase)

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.users[userID]
	if w == nil {
		return Ref{}, domain.ErrNotFound
	}
	t.evict(w, t.now())

	var candidates []entry
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if e.ref == nil {
			continue
		}
		if want != "" && e.ref.Kind != want {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return Ref{}, domain.ErrNotFound
	}
	best := candidates[0]
	if len(candidates) > 1 {
		second := candidates[1]
		if second.turn == best.turn && second.ref.Kind == best.ref.Kind {
			return Ref{}, domain.ErrAmbiguousReference
		}
	}
	return *best.ref, nil
}

// Summary renders the window as a short hint for the classifier, oldest
// first, e.g. "todo_add (task); reminder_add (reminder)". Empty when the
// window is empty.
func (t *Tracker) Summary(userID int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.users[userID]
	if w == nil {
		return ""
	}
	t.evict(w, t.now())

	parts := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		if e.ref != nil {
			parts = append(parts, e.intent+" ("+string(e.ref.Kind)+")")
		} else {
			parts = append(parts, e.intent)
		}
	}
	return strings.Join(parts, "; ")
}

// Referring reports whether the phrase is a bare reference to something from
// a recent turn. Only the enumerated forms qualify; a phrase carrying its own
// content ("the milk task") names a concrete target and must be looked up,
// never guessed from the window.
func Referring(phrase string) bool {
	p := strings.ToLower(strings.TrimSpace(phrase))
	switch p {
	case "it", "that", "this", "that one", "this one", "the last one", "the one i just added",
		"that task", "this task", "the task", "that todo", "the todo",
		"that reminder", "this reminder", "the reminder":
		return true
	}
	return false
}

// wantedKind narrows the reference kind implied by the phrase, if any.
func wantedKind(phrase string) Kind {
	p := strings.ToLower(phrase)
	switch {
	case strings.Contains(p, "task"), strings.Contains(p, "todo"):
		return KindTask
	case strings.Contains(p, "reminder"):
		return KindReminder
	}
	return ""
}
