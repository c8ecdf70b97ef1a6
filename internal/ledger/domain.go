// Package ledger owns customer accounts and their balances. Balances are
// stored as int64 minor units (cents); binary floating point is never used
// for money.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates supported account products.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeCard     AccountType = "CARD"
	AccountTypeLoan     AccountType = "LOAN"
)

// AccountStatus enumerates account lifecycle states.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account represents a customer account. Only a committed transfer or an
// approved application mutates it.
type Account struct {
	ID             uuid.UUID     `json:"id"`
	OwnerProfileID int64         `json:"owner_profile_id"`
	Type           AccountType   `json:"type"`
	Currency       string        `json:"currency"`
	Balance        int64         `json:"balance"`
	Status         AccountStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ValidAccountType reports whether the given type is a known product.
func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCard, AccountTypeLoan:
		return true
	}
	return false
}
