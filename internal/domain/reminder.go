package domain

import "time"

// Reminder is a one-shot notification. Delivered flips exactly once, via a
// conditional update, and is never reset.
type Reminder struct {
	ID         string
	TargetUser int64
	Message    string
	FireAt     time.Time // UTC
	Delivered  bool
	CreatedAt  time.Time // UTC
}
