package transfer

import (
	"time"

	"github.com/google/uuid"
)

// State enumerates the transfer lifecycle. A transfer moves forward only
// through the service; every transition is a conditional update against the
// store so concurrent sessions cannot double-apply one.
type State string

const (
	StateDraft         State = "DRAFT"
	StatePendingStepUp State = "PENDING_STEPUP"
	StateConfirmed     State = "CONFIRMED"
	// StatePendingReview holds transfers at or above the review threshold for
	// an administrator decision instead of settling immediately.
	StatePendingReview State = "PENDING_REVIEW"
	StateCommitted     State = "COMMITTED"
	StateRejected      State = "REJECTED"
	StateExpired       State = "EXPIRED"
	StateCancelled     State = "CANCELLED"
)

// Transfer represents a funds movement. Amount is int64 minor units.
// Exactly one of DestinationAccountID (internal) or DestinationExternal
// (external reference, e.g. an IBAN) is set.
type Transfer struct {
	ID                   uuid.UUID  `json:"id"`
	SourceAccountID      uuid.UUID  `json:"source_account_id"`
	DestinationAccountID *uuid.UUID `json:"destination_account_id,omitempty"`
	DestinationExternal  *string    `json:"destination_external,omitempty"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Reference            string     `json:"reference,omitempty"`
	State                State      `json:"state"`
	StepUpTokenID        *string    `json:"-"`
	CreatedBy            int64      `json:"created_by"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	CommittedAt          *time.Time `json:"committed_at,omitempty"`
}

// Internal reports whether the destination is another account in the ledger.
func (t Transfer) Internal() bool {
	return t.DestinationAccountID != nil
}

// Open reports whether the customer may still act on the transfer.
func (t Transfer) Open() bool {
	switch t.State {
	case StateDraft, StatePendingStepUp, StateConfirmed:
		return true
	}
	return false
}
