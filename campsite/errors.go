package campsite

import (
	"errors"
	"fmt"

	"campsite-notifier/pkg/notifier"
)

// TransientError indicates a temporary upstream failure: rate limiting,
// timeouts, 5xx responses. Callers retry once and otherwise stay silent.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient upstream failure: HTTP %d", e.Status)
	}
	return fmt.Sprintf("transient upstream failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError indicates the request itself is invalid, typically a bad
// park ID. Never retried; eligible to surface as an error notification.
type PermanentError struct {
	Status int
	Detail string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent upstream failure: HTTP %d: %s", e.Status, e.Detail)
}

// IsTransient checks whether an error is a transient upstream failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent checks whether an error is a permanent upstream failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Classify maps a client error to its notification-layer kind. Anything
// not explicitly permanent is treated as transient, so unknown failures
// can never trigger a user-facing error notification.
func Classify(err error) notifier.ErrorKind {
	if IsPermanent(err) {
		return notifier.ErrorPermanent
	}
	return notifier.ErrorTransient
}
