// Package approval implements the administrator review queue. Decisions are
// append-only records; once one lands the subject record never changes again.
package approval

import (
	"time"

	"github.com/google/uuid"
)

// Subject names the kind of record under review.
type Subject string

const (
	SubjectApplication Subject = "application"
	SubjectTransfer    Subject = "transfer"
)

// Outcome enumerates the two possible decisions.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// Decision is the immutable record of one administrator decision. Exactly one
// exists per decided subject.
type Decision struct {
	ID        uuid.UUID `json:"id"`
	Subject   Subject   `json:"subject"`
	RefID     uuid.UUID `json:"ref_id"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy int64     `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// QueueItem is one entry in the pending review queue. The queue merges
// applications and large transfers, ordered oldest first.
type QueueItem struct {
	Subject     Subject   `json:"subject"`
	RefID       uuid.UUID `json:"ref_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Summary     any       `json:"summary"`
}
