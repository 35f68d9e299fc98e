package service

import (
	"errors"
	"fmt"

	"github.com/tohirbeka1997-ops/poos/internal/store"
)

var ErrForbidden = errors.New("forbidden")

// ValidationError reports a failed precondition. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return store.ErrInsufficientStock }

// DuplicateNumberError means every attempt at a fresh document number hit a
// taken one. No header was written.
type DuplicateNumberError struct {
	Kind     string
	Number   string
	Attempts int
}

func (e *DuplicateNumberError) Error() string {
	return fmt.Sprintf("%s number %s already in use after %d attempts", e.Kind, e.Number, e.Attempts)
}

func (e *DuplicateNumberError) Unwrap() error { return store.ErrDuplicate }

type ShiftClosedError struct {
	CashierID string
	ShiftID   string
	Reason    string
}

func (e *ShiftClosedError) Error() string {
	if e.ShiftID != "" {
		return fmt.Sprintf("shift %s: %s", e.ShiftID, e.Reason)
	}
	return fmt.Sprintf("cashier %s: %s", e.CashierID, e.Reason)
}

// PartialWriteError is returned after a failure past the header write whose
// effects were fully compensated.
type PartialWriteError struct {
	Workflow string
	RefID    string
	Step     string
	Err      error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s %s failed at %s and was rolled back: %v", e.Workflow, e.RefID, e.Step, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// IntegrityAlertError means compensation did not complete. The ledger may be
// inconsistent and needs manual reconciliation; it is never retried.
type IntegrityAlertError struct {
	AlertID         string
	Workflow        string
	RefID           string
	Step            string
	Cause           error
	CompensationErr error
}

func (e *IntegrityAlertError) Error() string {
	return fmt.Sprintf("integrity alert %s: %s %s failed at %s (%v) and compensation failed: %v",
		e.AlertID, e.Workflow, e.RefID, e.Step, e.Cause, e.CompensationErr)
}

func (e *IntegrityAlertError) Unwrap() []error {
	return []error{e.Cause, e.CompensationErr}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// StoreError wraps a storage failure that happened before anything was
// written, so the caller may retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: storage unavailable: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Kind names the user-facing category of err.
func Kind(err error) string {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		duplicate  *DuplicateNumberError
		shiftErr   *ShiftClosedError
		partial    *PartialWriteError
		alert      *IntegrityAlertError
		notFound   *NotFoundError
		storeErr   *StoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &alert):
		return "integrity_alert"
	case errors.As(err, &partial):
		return "partial_write"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &duplicate):
		return "duplicate_number"
	case errors.As(err, &shiftErr):
		return "shift_closed"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &storeErr):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// classify turns a raw read/lookup error into the service taxonomy.
func classify(op string, entity string, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, store.ErrInvalidTransaction):
		return invalid(entity, "rejected by store")
	default:
		return &StoreError{Op: op, Err: err}
	}
}
