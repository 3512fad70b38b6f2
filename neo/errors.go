package neo

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAuthenticationFailed means the vendor rejected our credentials.
	// Never masked by cached state; the host has to re-authenticate.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAPIUnavailable marks transient transport or vendor failures.
	ErrAPIUnavailable = errors.New("api unavailable")

	// ErrUpdateFailed is returned when a refresh failed and there is no
	// cached state to fall back on.
	ErrUpdateFailed = errors.New("update failed")
)

// AuthenticationError is returned by a Client when the vendor refuses the
// supplied credentials or token.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "authentication error"
	}
	return "authentication error: " + e.Err.Error()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// APIError is a failed vendor call. It always matches ErrAPIUnavailable.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool { return target == ErrAPIUnavailable }

// MalformedPayloadError means the status response is structurally unusable.
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed status payload: " + e.Reason
}

// ValidationError is a local precondition failure. No vendor call has been
// made when one of these is returned.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Reason
}

func validationErrorf(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsMalformed(err error) bool {
	var m *MalformedPayloadError
	return errors.As(err, &m)
}

func isAuthentication(err error) bool {
	var a *AuthenticationError
	return errors.As(err, &a) || errors.Is(err, ErrAuthenticationFailed)
}
