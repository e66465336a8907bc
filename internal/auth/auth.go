// Package auth maps user roles to fixed capability sets and drives the
// owner-approval workflow for new users.
package auth

import (
	"context"
	"fmt"
	"time"

	"aide/internal/domain"
)

// Capability names one class of action a role may perform.
type Capability string

const (
	// CapConverse is general conversation with the assistant.
	CapConverse Capability = "converse"
	// CapTaskSelf covers creating and mutating the user's own tasks.
	CapTaskSelf Capability = "task.self"
	// CapTaskAssign covers creating or assigning tasks for other users.
	CapTaskAssign Capability = "task.assign"
	// CapReminderSelf covers the user's own one-shot reminders.
	CapReminderSelf Capability = "reminder.self"
	// CapCalendar covers calendar reads and writes.
	CapCalendar Capability = "calendar"
	// CapMail covers sending and checking email.
	CapMail Capability = "mail"
	// CapUserAdmin covers approving, revoking and configuring users.
	CapUserAdmin Capability = "user.admin"
)

// roleCaps is the fixed capability set per role. The owner is handled
// separately and holds every capability.
var roleCaps = map[domain.Role]map[Capability]bool{
	domain.RoleEmployee: {
		CapConverse:     true,
		CapTaskSelf:     true,
		CapReminderSelf: true,
	},
	domain.RoleContact: {
		CapConverse: true,
	},
}

// Check validates that the user's role grants the capability. A denied check
// returns domain.ErrPermissionDenied wrapped with the capability name; no
// state is changed on denial.
func Check(u *domain.User, cap Capability) error {
	if u == nil {
		return fmt.Errorf("%s: %w", cap, domain.ErrPermissionDenied)
	}
	if u.Role == domain.RoleOwner {
		return nil
	}
	if roleCaps[u.Role][cap] {
		return nil
	}
	return fmt.Errorf("%s: %w", cap, domain.ErrPermissionDenied)
}

// Decision is an owner's verdict on a pending authorization request.
type Decision string

const (
	DecisionEmployee Decision = "employee"
	DecisionContact  Decision = "contact"
	DecisionDeny     Decision = "deny"
)

// UserStore is the slice of the repository the workflow needs.
type UserStore interface {
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	SetRole(ctx context.Context, chatID int64, role domain.Role, by int64, at *time.Time) error
}

// Workflow drives the unauthorized → pending → {employee|contact} state
// machine. Denial returns the user to unauthorized; they may request again.
type Workflow struct {
	store UserStore
	now   func() time.Time
}

// NewWorkflow creates a Workflow against the given store.
func NewWorkflow(store UserStore) *Workflow {
	return &Workflow{store: store, now: time.Now}
}

// RequestAccess moves an unauthorized user to pending. Calling it for a user
// already pending is a no-op; calling it for an authorized user is an error.
func (w *Workflow) RequestAccess(ctx context.Context, u *domain.User) error {
	switch u.Role {
	case domain.RoleUnauthorized:
		return w.store.SetRole(ctx, u.ChatID, domain.RolePending, 0, nil)
	case domain.RolePending:
		return nil
	}
	return fmt.Errorf("user %d already authorized as %s", u.ChatID, u.Role)
}

// Decide resolves a pending request. Only an owner may call it; the subject
// must currently be pending.
func (w *Workflow) Decide(ctx context.Context, actor *domain.User, subjectID int64, d Decision) (*domain.User, error) {
	if err := Check(actor, CapUserAdmin); err != nil {
		return nil, err
	}
	subject, err := w.store.GetUser(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if subject.Role != domain.RolePending {
		return nil, fmt.Errorf("user %d is not pending (role %s)", subjectID, subject.Role)
	}

	var role domain.Role
	switch d {
	case DecisionEmployee:
		role = domain.RoleEmployee
	case DecisionContact:
		role = domain.RoleContact
	case DecisionDeny:
		role = domain.RoleUnauthorized
	default:
		return nil, fmt.Errorf("unknown decision %q", d)
	}

	now := w.now().UTC()
	var at *time.Time
	by := int64(0)
	if role != domain.RoleUnauthorized {
		at, by = &now, actor.ChatID
	}
	if err := w.store.SetRole(ctx, subjectID, role, by, at); err != nil {
		return nil, err
	}
	subject.Role = role
	subject.AuthorizedAt = at
	subject.AuthorizedBy = by
	return subject, nil
}

// Revoke sets an authorized user back to unauthorized. Owners cannot be
// revoked.
func (w *Workflow) Revoke(ctx context.Context, actor *domain.User, subjectID int64) error {
	if err := Check(actor, CapUserAdmin); err != nil {
		return err
	}
	subject, err := w.store.GetUser(ctx, subjectID)
	if err != nil {
		return err
	}
	if subject.Role == domain.RoleOwner {
		return fmt.Errorf("cannot revoke an owner")
	}
	return w.store.SetRole(ctx, subjectID, domain.RoleUnauthorized, 0, nil)
}
