package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, service and transport layers.
var (
	ErrValidation = errors.New("validation error")

	// ErrNotFoundOrUnauthorized is returned by ownership-scoped writes that
	// matched nothing. It never says which of the two it was.
	ErrNotFoundOrUnauthorized = errors.New("calendar not found or not owned by user")

	ErrCalendarNotFound  = errors.New("calendar not found")
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrIllegalTransition = errors.New("illegal queue transition")
)

// ValidationCode identifies a validation rule.
type ValidationCode string

const (
	CodeNameRequired      ValidationCode = "NameRequired"
	CodeInvalidDayOfWeek  ValidationCode = "InvalidDayOfWeek"
	CodeInvalidHour       ValidationCode = "InvalidHour"
	CodeInvalidMinute     ValidationCode = "InvalidMinute"
	CodeInvalidSlotFormat ValidationCode = "InvalidSlotFormat"
	CodeInvalidTimezone   ValidationCode = "InvalidTimezone"
)

// ValidationError describes a rejected caller input.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Is matches another ValidationError by code, so callers can compare
// against the package-level values below.
func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(code ValidationCode, field, message string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message}
}

var (
	ErrNameRequired      = NewValidationError(CodeNameRequired, "name", "name is required")
	ErrInvalidDayOfWeek  = NewValidationError(CodeInvalidDayOfWeek, "dayOfWeek", "must be between 0 and 6")
	ErrInvalidHour       = NewValidationError(CodeInvalidHour, "hour", "must be between 0 and 23")
	ErrInvalidMinute     = NewValidationError(CodeInvalidMinute, "minute", "must be between 0 and 59")
	ErrInvalidSlotFormat = NewValidationError(CodeInvalidSlotFormat, "slot", "dayOfWeek, hour and minute must be integers")
	ErrInvalidTimezone   = NewValidationError(CodeInvalidTimezone, "timezone", "unknown IANA timezone")
)

// IllegalTransitionError reports a rejected queue state change.
type IllegalTransitionError struct {
	ItemID string
	From   QueueStatus
	To     QueueStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("queue item %s: cannot transition from %s to %s", e.ItemID, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }
