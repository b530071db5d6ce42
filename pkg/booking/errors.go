package booking

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every error returned by Manager wraps exactly one of these.
var (
	ErrValidation         = errors.New("validation error")
	ErrSlotConflict       = errors.New("slot conflict")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrNotCancellable     = errors.New("not cancellable")
	ErrStorageFailure     = errors.New("storage failure")
)

// Validation failures. Each one wraps ErrValidation.
var (
	ErrInvalidAccountID      = fmt.Errorf("%w: invalid account id", ErrValidation)
	ErrInvalidRoomID         = fmt.Errorf("%w: invalid room id", ErrValidation)
	ErrInvalidBookingID      = fmt.Errorf("%w: invalid booking id", ErrValidation)
	ErrInvalidTransactionID  = fmt.Errorf("%w: invalid transaction id", ErrValidation)
	ErrInvalidIdempotencyKey = fmt.Errorf("%w: invalid idempotency key", ErrValidation)
	ErrInvalidDay            = fmt.Errorf("%w: invalid day", ErrValidation)
	ErrInvalidTimeOfDay      = fmt.Errorf("%w: invalid time of day", ErrValidation)
	ErrInvalidSlot           = fmt.Errorf("%w: invalid slot", ErrValidation)
	ErrInvalidDuration       = fmt.Errorf("%w: invalid duration", ErrValidation)
	ErrInvalidTitle          = fmt.Errorf("%w: invalid title", ErrValidation)
	ErrInvalidPoints         = fmt.Errorf("%w: invalid points", ErrValidation)
	ErrInvalidPointsDelta    = fmt.Errorf("%w: invalid points delta", ErrValidation)
	ErrInvalidAxis           = fmt.Errorf("%w: invalid axis", ErrValidation)
	ErrInvalidBookingStatus  = fmt.Errorf("%w: invalid booking status", ErrValidation)
	ErrInvalidTransaction    = fmt.Errorf("%w: invalid transaction", ErrValidation)
	ErrInvalidMetadataJSON   = fmt.Errorf("%w: invalid metadata json", ErrValidation)
	ErrInvalidRoom           = fmt.Errorf("%w: invalid room", ErrValidation)
	ErrInvalidBooking        = fmt.Errorf("%w: invalid booking", ErrValidation)
	ErrRoomInactive          = fmt.Errorf("%w: room inactive", ErrValidation)
	ErrBookingInPast         = fmt.Errorf("%w: booking starts in the past", ErrValidation)
	ErrIdempotencyKeyReused  = fmt.Errorf("%w: idempotency key reused with different request", ErrValidation)
	ErrNoAdjustment          = fmt.Errorf("%w: balance already at target", ErrValidation)
	ErrInvalidServiceConfig  = fmt.Errorf("%w: invalid service config", ErrValidation)
)

// Lookup and state failures reported by stores and the manager.
var (
	ErrUnknownRoom             = fmt.Errorf("%w: unknown room", ErrValidation)
	ErrUnknownBooking          = fmt.Errorf("%w: unknown booking", ErrNotCancellable)
	ErrNotBookingOwner         = fmt.Errorf("%w: booking belongs to another account", ErrNotCancellable)
	ErrBookingAlreadyCancelled = fmt.Errorf("%w: booking already cancelled", ErrNotCancellable)
	ErrBookingStarted          = fmt.Errorf("%w: booking already started", ErrNotCancellable)
	ErrBalanceChanged          = fmt.Errorf("%w: balance changed concurrently", ErrStorageFailure)
	ErrDuplicateKey            = fmt.Errorf("%w: duplicate key", ErrStorageFailure)
)

// ErrorKind is the coarse classification callers branch on.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindValidation         ErrorKind = "validation"
	KindSlotConflict       ErrorKind = "slot_conflict"
	KindInsufficientPoints ErrorKind = "insufficient_points"
	KindNotCancellable     ErrorKind = "not_cancellable"
	KindStorageFailure     ErrorKind = "storage_failure"
)

// Classify maps an error to its kind. Unrecognized errors are storage failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSlotConflict):
		return KindSlotConflict
	case errors.Is(err, ErrInsufficientPoints):
		return KindInsufficientPoints
	case errors.Is(err, ErrNotCancellable):
		return KindNotCancellable
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindStorageFailure
	}
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindSlotConflict, KindStorageFailure:
		return true
	default:
		return false
	}
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// asStorageFailure tags anything that is not already a domain error as ErrStorageFailure.
func asStorageFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrNotCancellable) || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}
