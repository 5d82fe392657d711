package signing

import (
	"context"
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is against these rather than the
// specific sentinels below when only the class matters.
var (
	ErrValidation        = errors.New("signing: validation failed")
	ErrNotFound          = errors.New("signing: not found")
	ErrInvalidCredential = errors.New("signing: invalid credential")
	ErrConflict          = errors.New("signing: conflict")
)

var (
	// ErrResolutionNotFound indicates the resolution does not exist.
	ErrResolutionNotFound = classified("signing: resolution not found", ErrNotFound)
	// ErrSignatoryNotFound indicates the resolution/signatory pair does not exist.
	ErrSignatoryNotFound = classified("signing: signatory not found", ErrNotFound)
	// ErrInvalidToken indicates the submitted sign token does not match the live credential.
	ErrInvalidToken = classified("signing: invalid token", ErrInvalidCredential)
	// ErrInvalidOrExpiredOTP covers both a wrong OTP and a correct OTP past its expiry.
	ErrInvalidOrExpiredOTP = classified("signing: invalid or expired otp", ErrInvalidCredential)
	// ErrCredentialConsumed indicates a concurrent attempt consumed the credential first.
	ErrCredentialConsumed = classified("signing: credential already consumed", ErrConflict, ErrInvalidCredential)
	// ErrResolutionFinalized indicates the resolution can no longer change.
	ErrResolutionFinalized = classified("signing: resolution already finalized", ErrConflict)
)

type classifiedError struct {
	msg     string
	classes []error
}

func classified(msg string, classes ...error) error {
	return &classifiedError{msg: msg, classes: classes}
}

func (e *classifiedError) Error() string   { return e.msg }
func (e *classifiedError) Unwrap() []error { return e.classes }

// DependencyError reports a failure of the persistence layer or another backing
// service. The operation left no partial state behind and may be retried.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("signing: %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry with backoff.
func (e *DependencyError) Retryable() bool { return true }

// Timeout reports whether the dependency exceeded its deadline.
func (e *DependencyError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsDependency reports whether err is a DependencyError.
func IsDependency(err error) bool {
	var dep *DependencyError
	return errors.As(err, &dep)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// dependency wraps err unless it already belongs to the domain taxonomy.
func dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || IsDependency(err) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrConflict)
}
