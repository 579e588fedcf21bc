/*
errors.go - Centralized error types for the stock engine

ERROR CATEGORIES:
  1. Business rule - insufficient stock, invalid quantity/price
  2. Lookup - part, lot or stock-out missing
  3. Storage - the unit of work could not commit

PROPAGATION:
  All errors surface to the caller untransformed. The engine never retries;
  ErrStorageFailure is safe to retry at the caller since nothing persisted.

SEE ALSO:
  - ledger.go: returns these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package stock

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when a request exceeds available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound is returned when a referenced part or record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure is returned when a transaction cannot be committed.
	ErrStorageFailure = errors.New("storage failure")

	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
	ErrPriceMismatch   = errors.New("total price does not match quantity × unit price")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError provides details about a shortage.
type InsufficientStockError struct {
	PartID    PartID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for part %s: requested %d, available %d",
		e.PartID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFoundError names the kind and id of the missing thing.
type NotFoundError struct {
	Kind string // "spare part", "stock out", "lot"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

type PriceMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("total price %s does not match expected %s", e.Got, e.Expected)
}

func (e *PriceMismatchError) Unwrap() error {
	return ErrPriceMismatch
}

// StorageError wraps a driver-level failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrPriceMismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
