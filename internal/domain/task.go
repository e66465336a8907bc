package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes a priority phrase; empty input means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium", "normal":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return "", parseErr(s, "unknown priority")
}

// Status of a task. Transitions move forward only, except an explicit reopen.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// CanTransition reports whether a status change is allowed. Forward moves and
// the explicit completed→pending reopen are legal; anything else is not.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCompleted
	case StatusInProgress:
		return to == StatusCompleted
	case StatusCompleted:
		return to == StatusPending // reopen
	}
	return false
}

// Task is a todo item. CreatorID is who added it, AssigneeID is whose list it
// lives on; both default to the same user for self-created tasks.
type Task struct {
	ID          string
	CreatorID   int64
	AssigneeID  int64
	Title       string
	Description string
	Priority    Priority
	Status      Status
	Due         *time.Time // UTC
	Recurrence  *RecurrenceRule
	Focused     bool
	CreatedAt   time.Time // UTC
	UpdatedAt   time.Time // UTC
}

// Label is the short human-readable form used in replies and follow-ups.
func (t *Task) Label() string {
	icon := map[Priority]string{
		PriorityUrgent: "‼️ ",
		PriorityHigh:   "❗ ",
	}[t.Priority]
	return fmt.Sprintf("%s%s", icon, t.Title)
}
