package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes. Auth failures are terminal for the session, fetch failures are not.
const (
	CodeHostUnavailable = "E100"
	CodeIdentityMissing = "E101"
	CodeAuthDataInvalid = "E102"
	CodeValidation      = "E200"
	CodeNetwork         = "E300"
	CodeBackend         = "E301"
	CodeState           = "E400"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	// Terminal errors end the session; the user has to relaunch the Mini App.
	Terminal bool
	cause    error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewHostUnavailableError() *AppError {
	return &AppError{
		Code:        CodeHostUnavailable,
		Message:     "not running inside host",
		UserMessage: "auth.host_unavailable",
		Severity:    SeverityCritical,
		Terminal:    true,
	}
}

func NewIdentityMissingError() *AppError {
	return &AppError{
		Code:        CodeIdentityMissing,
		Message:     "no identity",
		UserMessage: "auth.identity_missing",
		Severity:    SeverityHigh,
		Terminal:    true,
	}
}

func NewAuthDataInvalidError() *AppError {
	return &AppError{
		Code:        CodeAuthDataInvalid,
		Message:     "invalid auth data",
		UserMessage: "auth.invalid_data",
		Severity:    SeverityHigh,
		Terminal:    true,
	}
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: "errors.validation",
		Severity:    SeverityLow,
	}
}

func NewNetworkError(endpoint string, cause error) *AppError {
	return &AppError{
		Code:        CodeNetwork,
		Message:     fmt.Sprintf("network error calling %s", endpoint),
		UserMessage: "errors.network",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewBackendError(endpoint string, status int, msg string) *AppError {
	severity := SeverityMedium
	if status >= 500 {
		severity = SeverityHigh
	}

	return &AppError{
		Code:        CodeBackend,
		Message:     fmt.Sprintf("backend error calling %s: %d %s", endpoint, status, msg),
		UserMessage: "errors.backend",
		Severity:    severity,
		Retryable:   status >= 500,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "errors.state",
		Severity:    SeverityMedium,
	}
}
