package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Domain-level error values returned by the queue service.
var (
	ErrUnknownReservation    = errors.New("reservation not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTablesNotFound        = errors.New("tables not found")
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrTableConflict         = errors.New("table conflict")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrAlreadyTerminal       = errors.New("reservation already closed")
	ErrStorageFailure        = errors.New("storage failure")
	ErrDuplicateAssignment   = errors.New("table already actively assigned to reservation")
	ErrReservationExists     = errors.New("reservation already exists")
	ErrUnknownBill           = errors.New("bill not found")
	ErrNoTablesRequested     = errors.New("no tables requested")
	ErrInvalidReservationID  = errors.New("invalid reservation id")
	ErrInvalidActorID        = errors.New("invalid actor id")
	ErrInvalidTableNumber    = errors.New("invalid table number")
	ErrInvalidPartySize      = errors.New("invalid party size")
	ErrInvalidSchedule       = errors.New("invalid scheduled time")
	ErrInvalidStatus         = errors.New("invalid reservation status")
	ErrInvalidAction         = errors.New("invalid status action")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidReservationRow = errors.New("invalid reservation record")
	ErrAmountOverflow        = errors.New("amount exceeds maximum")
)

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

// StorageError tags a persistence error with ErrStorageFailure while keeping its message.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// TablesNotFoundError names the requested table numbers missing from the catalog.
type TablesNotFoundError struct {
	Numbers []TableNumber
}

func (notFound TablesNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTablesNotFound, joinTableNumbers(notFound.Numbers))
}

func (notFound TablesNotFoundError) Unwrap() error {
	return ErrTablesNotFound
}

// CapacityExceededError reports a party that does not fit the requested tables.
type CapacityExceededError struct {
	PartySize       int
	AllowedCapacity int
}

func (exceeded CapacityExceededError) Error() string {
	return fmt.Sprintf("party size %d exceeds allowed capacity %d", exceeded.PartySize, exceeded.AllowedCapacity)
}

func (exceeded CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// TableConflictError names the tables held by another party in an overlapping window.
type TableConflictError struct {
	Numbers []TableNumber
}

func (conflict TableConflictError) Error() string {
	if len(conflict.Numbers) == 1 {
		return fmt.Sprintf("table %s is occupied by another party in an overlapping window", joinTableNumbers(conflict.Numbers))
	}
	return fmt.Sprintf("tables %s are occupied by another party in an overlapping window", joinTableNumbers(conflict.Numbers))
}

func (conflict TableConflictError) Unwrap() error {
	return ErrTableConflict
}

func invalidTransition(from ReservationStatus, to ReservationStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w (%w): reservation is %s", ErrAlreadyTerminal, ErrInvalidTransition, from)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func joinTableNumbers(numbers []TableNumber) string {
	parts := make([]string, 0, len(numbers))
	for _, number := range numbers {
		parts = append(parts, strconv.Itoa(number.Int()))
	}
	return strings.Join(parts, ", ")
}
