package models

import (
	"time"

	"github.com/samber/lo"
)

const RoleAdmin = "admin"

// User is the authenticated subject of a request: identity plus ABAC
// attributes. Token verification happens outside the core; components
// receive the resolved value.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Roles         []string  `json:"roles,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Approved      bool      `json:"approved"`
	Active        bool      `json:"active"`
	ResetRequired bool      `json:"reset_required"`
	CreatedAt     time.Time `json:"created_at"`
}

// MayAct reports whether the user is allowed to act at all.
func (u *User) MayAct() bool { return u != nil && u.Approved && u.Active }

// IsAdmin reports whether the user carries the admin role. Admin implies
// every other role and bypasses tag filtering.
func (u *User) IsAdmin() bool { return u != nil && lo.Contains(u.Roles, RoleAdmin) }

// HasRole reports role membership, with admin implying all roles.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return u.IsAdmin() || lo.Contains(u.Roles, role)
}
