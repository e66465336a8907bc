package store

import (
	"context"
	"time"

	"aide/internal/domain"
)

// Repo defines storage operations shared by the message path and the
// scheduler. Both streams read and write tasks and reminders; every
// multi-step mutation happens inside one transaction so a partial write is
// never observed by the other stream.
type Repo interface {
	// Users.
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	UpsertUser(ctx context.Context, u *domain.User) error
	SetRole(ctx context.Context, chatID int64, role domain.Role, by int64, at *time.Time) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	// Tasks.
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, assigneeID int64, includeCompleted bool, limit int) ([]domain.Task, error)
	// UpdateTaskStatus flips status only when the row is still in from,
	// keeping transitions monotonic under concurrent writers.
	UpdateTaskStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	SetTaskPriority(ctx context.Context, id string, p domain.Priority) error
	AssignTask(ctx context.Context, id string, assigneeID int64) error
	// SetFocusedTask clears any prior focused task of the assignee and sets
	// the new one in a single transaction (at most one focused per user).
	SetFocusedTask(ctx context.Context, assigneeID int64, taskID string) error
	SetTaskRecurrence(ctx context.Context, id string, rule *domain.RecurrenceRule) error
	ListRecurringTasks(ctx context.Context) ([]domain.Task, error)
	// AdvanceTaskFire claims one recurring due instance: it moves last-fired
	// from prev to fired only if the stored value still equals prev and the
	// task is not completed. Returns false when another tick got there first.
	AdvanceTaskFire(ctx context.Context, id string, prev *time.Time, fired time.Time) (bool, error)
	DeleteTask(ctx context.Context, id string) error

	// Reminders.
	CreateReminder(ctx context.Context, r *domain.Reminder) error
	GetReminder(ctx context.Context, id string) (*domain.Reminder, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	// ClaimReminder flips delivered 0→1; false means it was already claimed.
	ClaimReminder(ctx context.Context, id string) (bool, error)
	DeleteReminder(ctx context.Context, id string) error

	// Notes.
	CreateNote(ctx context.Context, n *domain.Note) error
	ListNotes(ctx context.Context, ownerID int64, limit int) ([]domain.Note, error)

	Close() error
}
