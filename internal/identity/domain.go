// Package identity resolves the acting role of an authenticated session.
//
// A user record alone does not say whether the caller is an account holder or
// a back-office administrator; that is decided by which profile table links to
// the user. The result is carried through the request as an explicit Identity
// value rather than re-queried ad hoc.
package identity

import (
	"errors"
	"time"
)

// Role enumerates the two supported caller roles.
type Role string

const (
	RoleCustomer      Role = "CUSTOMER"
	RoleAdministrator Role = "ADMINISTRATOR"
)

var (
	// ErrNoProfile indicates the authenticated user has neither a customer nor
	// an administrator profile. The caller must not default to either role.
	ErrNoProfile = errors.New("no profile linked to user")
	// ErrAmbiguousProfile indicates the user has both profile types. Role
	// cannot be trusted, so the session must be torn down.
	ErrAmbiguousProfile = errors.New("user linked to both customer and administrator profiles")
)

// Profile is the record linking a user to a role.
type Profile struct {
	ID        int64
	UserID    int64
	FullName  string
	Email     string
	CreatedAt time.Time
}

// Identity is the resolved caller: exactly one role with its backing profile.
type Identity struct {
	UserID  int64
	Role    Role
	Profile Profile
}

// IsCustomer reports whether the identity acts as an account holder.
func (i Identity) IsCustomer() bool {
	return i.Role == RoleCustomer
}

// IsAdministrator reports whether the identity acts as a reviewer.
func (i Identity) IsAdministrator() bool {
	return i.Role == RoleAdministrator
}
