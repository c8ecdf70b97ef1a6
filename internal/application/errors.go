package application

import "errors"

var (
	// ErrInvalidKind rejects unknown application kinds.
	ErrInvalidKind = errors.New("unknown application kind")
	// ErrInvalidParameters rejects kind-specific fields that are missing or
	// out of policy bounds.
	ErrInvalidParameters = errors.New("invalid application parameters")
	// ErrNotApplicant indicates the record belongs to another customer.
	ErrNotApplicant = errors.New("application not owned by caller")
	// ErrNotWithdrawable indicates the application already reached a terminal
	// state.
	ErrNotWithdrawable = errors.New("application can no longer be withdrawn")
)
