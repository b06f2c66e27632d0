package skiddly

import (
	"errors"
	"fmt"

	"github.com/skiddly/skiddly/internal/apierror"
)

// ValidationError rejects a malformed inbound event or request. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// SchedulingConflictError means another worker already claimed the attempt. Callers treat
// it as a no-op.
type SchedulingConflictError struct {
	CaseID string
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("attempt for case %s was claimed by another worker", e.CaseID)
}

// IsValidationError reports whether err, or anything it wraps, is a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsSchedulingConflict reports whether err, or anything it wraps, is a SchedulingConflictError.
func IsSchedulingConflict(err error) bool {
	var c *SchedulingConflictError
	return errors.As(err, &c)
}

// ToAPIError maps service errors onto the API error codes.
func ToAPIError(err error) error {
	var v *ValidationError
	if errors.As(err, &v) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, v.Error(), err)
	}
	var c *SchedulingConflictError
	if errors.As(err, &c) {
		return apierror.NewAPIError(apierror.ErrConflict, c.Error(), err)
	}
	return err
}
