package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuthenticity means a webhook signature was missing or did not verify.
	// The notification is dropped without touching the ledger.
	ErrAuthenticity = errors.New("webhook authenticity check failed")
	ErrJarInactive  = errors.New("jar is not accepting contributions")
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// checkAmount requires a positive amount in whole minor units.
func checkAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(field, "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid(field, "must have at most two decimal places")
	}
	return nil
}

// ReferenceError means a correlation reference was malformed or names a jar
// that does not exist.
type ReferenceError struct {
	Reference string
	Err       error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unresolvable reference %q: %v", e.Reference, e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }
