package domain

import "time"

// Note is a free-form memo owned by one user. Notes have no schedule and no
// status; they exist to be written down and listed back.
type Note struct {
	ID        string
	OwnerID   int64
	Text      string
	CreatedAt time.Time // UTC
}
