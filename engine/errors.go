/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes; nothing in the engine formats
  user-facing messages.

ERROR CATEGORIES:
  1. Invariant violations - FieldError / ValidationErrors, attributed to an
     input field (term overlap, weekday mismatch, date outside term, ...)
  2. Referential errors - ErrXxxNotFound, ErrNoTerms
  3. Ledger errors - ErrNonPositiveAmount, ErrDuplicateIdempotencyKey

USAGE:
  if errors.Is(err, engine.ErrWeekdayMismatch) { ... }

  var verrs engine.ValidationErrors
  if errors.As(err, &verrs) {
      for _, fe := range verrs { ... fe.Field, fe.Code ... }
  }
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrMissingField    = errors.New("missing field")
	ErrEndBeforeStart  = errors.New("end date before start date")
	ErrTermOverlap     = errors.New("term overlaps another term")
	ErrWeekdayMismatch = errors.New("date does not match selected day of the week")
	ErrDateOutOfTerm   = errors.New("date is not within selected term")
	ErrZeroLessons     = errors.New("no lessons fit within these constraints")
	ErrInvalidChoice   = errors.New("value is not one of the allowed choices")
	ErrChildNotOwned   = errors.New("child must belong to client")
	ErrWrongRole       = errors.New("user does not have the required role")

	// ErrNoTerms is returned when an operation needs at least one term and
	// the calendar is empty.
	ErrNoTerms = errors.New("no terms defined")

	ErrTermNotFound    = errors.New("term not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrChildNotFound   = errors.New("child not found")
	ErrRequestNotFound = errors.New("request not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrRequestFulfilled is returned when a request that already produced a
	// booking is booked, edited or withdrawn again.
	ErrRequestFulfilled = errors.New("request already fulfilled")

	// ErrNotRequestOwner is returned when a client touches another client's request.
	ErrNotRequestOwner = errors.New("request belongs to another client")

	// ErrNonPositiveAmount guards every transfer the ledger emits.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrAmountPrecision   = errors.New("amount has more than two decimal places")

	// ErrDuplicateIdempotencyKey is returned when a transfer with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBookingInvoiced is returned when a second invoice is saved for a booking.
	ErrBookingInvoiced = errors.New("booking already has an invoice")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending field
// =============================================================================

type ErrorCode string

const (
	CodeMissingField    ErrorCode = "missing_field"
	CodeEndBeforeStart  ErrorCode = "end_before_start"
	CodeOverlaps        ErrorCode = "overlaps"
	CodeWeekdayMismatch ErrorCode = "weekday_mismatch"
	CodeDateOutOfTerm   ErrorCode = "date_out_of_term"
	CodeZeroLessons     ErrorCode = "zero_lessons"
	CodeInvalidChoice   ErrorCode = "invalid_choice"
	CodeChildNotOwned   ErrorCode = "child_not_owned"
	CodeWrongRole       ErrorCode = "wrong_role"
)

var codeSentinels = map[ErrorCode]error{
	CodeMissingField:    ErrMissingField,
	CodeEndBeforeStart:  ErrEndBeforeStart,
	CodeOverlaps:        ErrTermOverlap,
	CodeWeekdayMismatch: ErrWeekdayMismatch,
	CodeDateOutOfTerm:   ErrDateOutOfTerm,
	CodeZeroLessons:     ErrZeroLessons,
	CodeInvalidChoice:   ErrInvalidChoice,
	CodeChildNotOwned:   ErrChildNotOwned,
	CodeWrongRole:       ErrWrongRole,
}

// FieldError is a single invariant violation attributed to an input field.
type FieldError struct {
	Field string
	Code  ErrorCode
	// Conflict names the other record involved, e.g. the overlapping term.
	Conflict string
}

func (e *FieldError) Error() string {
	msg := codeSentinels[e.Code]
	if msg == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Code)
	}
	if e.Conflict != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Field, msg, e.Conflict)
	}
	return fmt.Sprintf("%s: %v", e.Field, msg)
}

func (e *FieldError) Unwrap() error {
	return codeSentinels[e.Code]
}

// ValidationErrors collects every violation found in one pass, the way a
// form reports all of its bad fields at once.
type ValidationErrors []*FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, fe := range v {
		errs[i] = fe
	}
	return errs
}

// orNil keeps a nil ValidationErrors from becoming a non-nil error interface.
func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// FieldErrors flattens err into its field errors. Returns nil if err carries none.
func FieldErrors(err error) []*FieldError {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return []*FieldError{fe}
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return FieldErrors(err) != nil ||
		errors.Is(err, ErrNoTerms) ||
		errors.Is(err, ErrRequestFulfilled) ||
		errors.Is(err, ErrNotRequestOwner) ||
		errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrAmountPrecision)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTermNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrChildNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsConflict returns true for writes that were already applied.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrBookingInvoiced)
}
