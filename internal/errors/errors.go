package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, ErrNotFound) against a wrapped instance.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

const (
	CodeValidation         = "VALIDATION_001"
	CodeAdherenceWindow    = "ADHERENCE_001"
	CodeJustification      = "BUSINESS_001"
	CodeNotFound           = "NOTFOUND_001"
	CodeNotificationFailed = "SYSTEM_NOTIFICATION_FAILED"
	CodeChannelUnavailable = "CHAN_002"
	CodeConfigInvalid      = "CONFIG_002"
)

var (
	ErrConfigInvalid = &AppError{Code: CodeConfigInvalid, Message: "invalid configuration"}

	ErrValidation            = &AppError{Code: CodeValidation, Message: "invalid recurrence parameter"}
	ErrAdherenceWindow       = &AppError{Code: CodeAdherenceWindow, Message: "action outside adherence window"}
	ErrJustificationRequired = &AppError{Code: CodeJustification, Message: "justification required"}
	ErrNotFound              = &AppError{Code: CodeNotFound, Message: "no pending occurrence"}
	ErrNotificationFailed    = &AppError{Code: CodeNotificationFailed, Message: "notification delivery failed"}
	ErrChannelUnavailable    = &AppError{Code: CodeChannelUnavailable, Message: "channel unavailable"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// Adherencef builds an adherence-window error with a formatted message.
func Adherencef(format string, args ...any) *AppError {
	return New(CodeAdherenceWindow, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// NotificationFailed wraps a persistence or delivery failure.
func NotificationFailed(message string, cause error) *AppError {
	return Wrap(cause, CodeNotificationFailed, message)
}
