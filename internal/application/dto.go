package application

import "github.com/meridian-bank/meridian/internal/ledger"

type SubmitRequest struct {
	Kind        Kind                `json:"kind" validate:"required"`
	LoanAmount  *int64              `json:"loan_amount,omitempty"`
	TermMonths  *int                `json:"term_months,omitempty"`
	AccountType *ledger.AccountType `json:"account_type,omitempty"`
	CardProduct *string             `json:"card_product,omitempty"`
	Currency    string              `json:"currency,omitempty" validate:"omitempty,len=3"`
}
