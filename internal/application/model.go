package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-bank/meridian/internal/ledger"
)

// Kind enumerates what a customer may apply for.
type Kind string

const (
	KindLoan       Kind = "LOAN"
	KindNewAccount Kind = "NEW_ACCOUNT"
	KindNewCard    Kind = "NEW_CARD"
)

// State enumerates the application lifecycle. Once submitted the customer can
// no longer edit the record; only withdraw and resubmit.
type State string

const (
	StateSubmitted   State = "SUBMITTED"
	StateUnderReview State = "UNDER_REVIEW"
	StateApproved    State = "APPROVED"
	StateRejected    State = "REJECTED"
	StateWithdrawn   State = "WITHDRAWN"
)

// Parameters carries the kind-specific request fields. Stored as JSONB.
type Parameters struct {
	// Loan fields. Amount in minor units.
	LoanAmount *int64 `json:"loan_amount,omitempty"`
	TermMonths *int   `json:"term_months,omitempty"`
	// New-account fields.
	AccountType *ledger.AccountType `json:"account_type,omitempty"`
	// New-card fields.
	CardProduct *string `json:"card_product,omitempty"`
	// Currency for the created account; defaults to the bank currency.
	Currency string `json:"currency,omitempty"`
}

// Application represents a loan / new-account / new-card request.
type Application struct {
	ID                 uuid.UUID  `json:"id"`
	ApplicantProfileID int64      `json:"applicant_profile_id"`
	Kind               Kind       `json:"kind"`
	Params             Parameters `json:"params"`
	State              State      `json:"state"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	DecidedBy          *int64     `json:"decided_by,omitempty"`
}

// ValidKind reports whether k names a supported application kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindLoan, KindNewAccount, KindNewCard:
		return true
	}
	return false
}

// Pending reports whether the application still awaits a decision.
func (a Application) Pending() bool {
	return a.State == StateSubmitted || a.State == StateUnderReview
}
