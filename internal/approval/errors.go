package approval

import "errors"

var (
	// ErrAlreadyDecided indicates another administrator's decision landed
	// first. The existing decision stands.
	ErrAlreadyDecided = errors.New("record already decided")
	// ErrInvalidOutcome rejects outcomes other than APPROVED or REJECTED.
	ErrInvalidOutcome = errors.New("invalid decision outcome")
	// ErrFollowOnFailed indicates the decision was rolled back because the
	// action it entails could not be performed.
	ErrFollowOnFailed = errors.New("approval follow-on action failed")
)
