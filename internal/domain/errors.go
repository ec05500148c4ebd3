package domain

import "errors"

var (
	// ErrUnauthorized means the credential was rejected; the user has to sign in again.
	ErrUnauthorized = errors.New("authorization failed, please sign in again")
	// ErrUnavailable covers network failures, timeouts and non-2xx answers other than 401.
	ErrUnavailable = errors.New("remote store unavailable")
	ErrInvalidItem = errors.New("invalid item")
	ErrUnsupported = errors.New("operation not supported for this collection")
	ErrGuestOnly   = errors.New("operation is only available in guest mode")
)

// IsRetryable reports whether err is worth queueing for a later replay.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrInvalidItem) && !errors.Is(err, ErrUnsupported)
}
