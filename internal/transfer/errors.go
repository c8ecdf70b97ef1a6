package transfer

import "errors"

var (
	// ErrInvalidAmount rejects non-positive amounts before any store write.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	// ErrUnauthorizedAccount indicates the source account is not owned by the
	// caller.
	ErrUnauthorizedAccount = errors.New("source account not owned by caller")
	// ErrSameAccount rejects transfers whose destination equals the source.
	ErrSameAccount = errors.New("destination equals source account")
	// ErrInvalidDestination indicates neither or both destination forms were
	// supplied, or the external reference is unusable.
	ErrInvalidDestination = errors.New("invalid transfer destination")
	// ErrInvalidCurrency indicates an unknown ISO 4217 currency code.
	ErrInvalidCurrency = errors.New("invalid currency code")
	// ErrInsufficientFunds indicates the source balance no longer covers the
	// amount at commit time. The balance and transfer state are untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStateConflict indicates the transfer was not in the expected state;
	// another session got there first. Surfaced as "state changed, refresh".
	ErrStateConflict = errors.New("transfer state changed")
	// ErrExpired indicates the transfer passed its commit window.
	ErrExpired = errors.New("transfer expired")
)
