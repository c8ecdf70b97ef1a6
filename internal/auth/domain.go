package auth

import "time"

// User represents an authenticated user account. The same record backs both
// customer and administrator sign-ins; the linked profile decides the role.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
