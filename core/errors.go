/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / errors.As; the API layer maps the
  categories onto HTTP status codes.

ERROR CATEGORIES:
  1. Recognition errors - NotRecognized, NoEnrollments, NoFaceDetected
  2. Ledger errors - Cooldown, AlreadyComplete, PolicyMissing
  3. Validation errors - malformed input, bad vector dimension
  4. Store errors - constraint violations, missing rows
  5. Subscriber errors - failures inside post-commit event handlers

USAGE:
  if errors.Is(err, core.ErrCooldown) {
      var ce *core.CooldownError
      errors.As(err, &ce)
      fmt.Println(ce.MinutesRemaining())
  }

SEE ALSO:
  - events.go: HandlerError
  - api/handlers.go: HTTP mapping
*/
package core

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotRecognized is returned when no enrolled vector lies within tolerance.
	ErrNotRecognized = errors.New("face not recognized")

	// ErrNoEnrollments is returned when the registry holds no usable vectors.
	ErrNoEnrollments = errors.New("no employees with registered face encodings")

	// ErrNoFaceDetected is returned when the encoder finds no face in an image.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrCooldown is returned when a check-out arrives inside the cooldown window.
	ErrCooldown = errors.New("check-out cooldown active")

	// ErrAlreadyComplete is returned when both stamps already exist for the day.
	ErrAlreadyComplete = errors.New("attendance already completed")

	// ErrPolicyMissing marks a computation that ran without any shift policy.
	ErrPolicyMissing = errors.New("no shift policy available")

	// ErrConstraintViolation is the parent of every ConstraintViolationError.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrLockNotObtained is returned when the per-day lock could not be acquired.
	ErrLockNotObtained = errors.New("lock not obtained")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrPolicyNotFound     = errors.New("shift policy not found")
	ErrRecordNotFound     = errors.New("attendance record not found")
	ErrAdjustmentNotFound = errors.New("salary adjustment not found")
	ErrHolidayNotFound    = errors.New("holiday not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CooldownError reports how far into the cooldown window a check-out came.
type CooldownError struct {
	EmployeeID EntityID
	Date       Date
	Elapsed    time.Duration
	Window     time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("check-out for %s on %s too soon: %d minute(s) remaining",
		e.EmployeeID, e.Date, e.MinutesRemaining())
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldown
}

// MinutesRemaining is the window in minutes minus whole elapsed minutes.
func (e *CooldownError) MinutesRemaining() int {
	return int(e.Window/time.Minute) - int(e.Elapsed/time.Minute)
}

// ConstraintViolationError wraps a uniqueness or integrity failure raised
// by a store.
type ConstraintViolationError struct {
	Constraint string
	Err        error
}

func (e *ConstraintViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("constraint %s violated: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("constraint %s violated", e.Constraint)
}

func (e *ConstraintViolationError) Unwrap() error {
	return ErrConstraintViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNoFaceDetected)
}

// IsConflict returns true for uniqueness failures and ledger state conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrLockNotObtained)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrHolidayNotFound)
}
