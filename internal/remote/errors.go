package remote

import (
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// StatusError is a non-2xx answer from the remote store. It unwraps to
// domain.ErrUnauthorized for 401 and to domain.ErrUnavailable otherwise.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return domain.ErrUnauthorized
	}
	return domain.ErrUnavailable
}

// errorResponse mirrors the error body written by the API.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
