package api

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
)

// RequestError is returned for every failed backend call. Status 0 means no response
// was received.
type RequestError struct {
	Endpoint string
	Status   int
	Message  string
	app      *apperrors.AppError
}

func newStatusError(endpoint string, status int, message string) *RequestError {
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}

	return &RequestError{
		Endpoint: endpoint,
		Status:   status,
		Message:  message,
		app:      apperrors.NewBackendError(endpoint, status, message),
	}
}

func newTransportError(endpoint string, cause error) *RequestError {
	return &RequestError{
		Endpoint: endpoint,
		Message:  cause.Error(),
		app:      apperrors.NewNetworkError(endpoint, cause),
	}
}

func (e *RequestError) Error() string {
	return e.Message
}

// Unwrap exposes the typed AppError so the error handler can classify the failure.
func (e *RequestError) Unwrap() error {
	return e.app
}

// countsAsBreakerFailure trips the breaker only on transport failures and 5xx answers.
// Caller cancellation and 4xx responses say nothing about backend health.
func countsAsBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}

	return reqErr.Status == 0 || reqErr.Status >= 500
}
