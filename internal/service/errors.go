package service

import "errors"

// Error kinds callers branch on with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("username or email already taken")
	ErrUnauthorized     = errors.New("invalid credentials or token")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInternal         = errors.New("internal error")
)

// ValidationError carries a reason that is safe to show to the user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Reason: err.Error()}
}
