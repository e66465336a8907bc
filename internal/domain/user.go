package domain

import (
	"strings"
	"time"
)

// Role determines a user's capability set.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleEmployee     Role = "employee"
	RoleContact      Role = "contact"
	RoleUnauthorized Role = "unauthorized"
	RolePending      Role = "pending"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleOwner, RoleEmployee, RoleContact, RoleUnauthorized, RolePending:
		return true
	}
	return false
}

// User is anyone who has ever contacted the bot. Users are created on first
// contact and never hard-deleted; revoking access sets the role back to
// unauthorized.
type User struct {
	ChatID       int64
	DisplayName  string
	Username     string
	Role         Role
	TZ           string     // IANA location name
	AuthorizedAt *time.Time // UTC, set when the role was granted
	AuthorizedBy int64      // chat id of the granting owner, 0 if none
	CreatedAt    time.Time  // UTC
}

// Authorized reports whether the user may issue commands at all.
func (u *User) Authorized() bool {
	switch u.Role {
	case RoleOwner, RoleEmployee, RoleContact:
		return true
	}
	return false
}

// Location resolves the user's timezone, falling back to UTC on a bad value.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MatchesName reports whether phrase matches the user's display name or
// username, case-insensitively.
func (u *User) MatchesName(phrase string) bool {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return false
	}
	return strings.ToLower(u.DisplayName) == p || strings.ToLower(u.Username) == p
}

// ValidateTZ checks that tz is a valid IANA location.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}
