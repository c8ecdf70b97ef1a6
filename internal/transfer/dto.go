package transfer

import "github.com/google/uuid"

type CreateDraftRequest struct {
	SourceAccountID      uuid.UUID  `json:"source_account_id" validate:"required"`
	DestinationAccountID *uuid.UUID `json:"destination_account_id,omitempty"`
	DestinationExternal  *string    `json:"destination_external,omitempty" validate:"omitempty,min=8,max=64"`
	Amount               int64      `json:"amount" validate:"required"`
	Currency             string     `json:"currency" validate:"required,len=3"`
	Reference            string     `json:"reference" validate:"max=140"`
}

type ConfirmRequest struct {
	StepUpToken string `json:"step_up_token"`
}

type CommitRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}
