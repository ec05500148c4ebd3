package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func respondValidationError(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "request validation failed",
		Code:    "invalid_argument",
		Details: err.Error(),
	})
}

// handleServiceError maps service and repository errors to HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, domain.ErrInvalidItem):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrUnsupported):
		status, code = http.StatusMethodNotAllowed, "unsupported"
	case errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrCollectionNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	respondError(w, status, code, message)
}
