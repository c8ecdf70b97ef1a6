// Package stepup implements step-up authentication: a second, narrowly-scoped
// credential check immediately before a sensitive action, independent of the
// standing login session. Both the customer and administrator surfaces gate
// their commits through this one component, parameterized by the action.
package stepup

import (
	"errors"
	"time"
)

var (
	// ErrEmptyCredential is returned before any remote check when the supplied
	// credential is blank.
	ErrEmptyCredential = errors.New("credential must not be empty")
	// ErrInvalidCredential indicates the supplied credential did not match.
	// The caller may retry within the rate limit.
	ErrInvalidCredential = errors.New("credential does not match")
	// ErrStaleToken indicates the token was already consumed, expired, or
	// never issued. A consumed token must never authorize a second commit.
	ErrStaleToken = errors.New("step-up token is stale")
	// ErrRequired indicates a sensitive transition was attempted without a
	// valid unconsumed token attached.
	ErrRequired = errors.New("step-up verification required")
)

// Token is a short-lived, single-use proof of step-up verification. It is
// bound to the verified user and to the action it was requested for; the
// commit step consumes it exactly once.
type Token struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token lifetime has elapsed.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
