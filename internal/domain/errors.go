package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrTransactionFailed = errors.New("transaction failed")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StockError reports the first product whose grouped demand exceeds stock.
type StockError struct {
	ProductID int64
	Name      string
	Available int
	Required  int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, required %d", e.Name, e.Available, e.Required)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

func (e *StockError) Shortfall() int {
	return e.Required - e.Available
}

type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return e.Reason }

func (e *StateError) Unwrap() error { return ErrInvalidState }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransactionError wraps a storage failure that aborted a commit or cancel.
// The wrapped cause stays reachable through errors.As for logging.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed", e.Op)
}

func (e *TransactionError) Unwrap() []error { return []error{ErrTransactionFailed, e.Err} }

func NewNotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsDomainError reports whether err belongs to the domain taxonomy rather than
// being a raw storage failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransactionFailed)
}
