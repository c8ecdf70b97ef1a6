package approval

// DecideRequest is the administrator's decision payload. The step-up token
// re-confirms the live administrator; the idempotency key makes a retried
// decide return the original decision instead of a conflict.
type DecideRequest struct {
	Outcome        Outcome `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Reason         string  `json:"reason,omitempty" validate:"max=500"`
	StepUpToken    string  `json:"step_up_token" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required,min=8,max=128"`
}
