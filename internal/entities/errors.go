package entities

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound        = errors.New("ledger: account not found")
	ErrDuplicatePayment       = errors.New("ledger: payment already processed")
	ErrPersistenceUnavailable = errors.New("ledger: persistence unavailable")
	ErrInvalidPayment         = errors.New("ledger: invalid payment")
	ErrUnknownPersona         = errors.New("ledger: unknown persona")
)

// ValidationError represents a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}
