package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFinal means the ledger has not finalized the transaction yet.
	ErrNotFinal = errors.New("transaction not final")

	// ErrTxNotFound means the ledger does not know the transaction reference yet.
	ErrTxNotFound = errors.New("transaction not found on ledger")

	// ErrVerificationMismatch means a final transaction does not match the claim.
	ErrVerificationMismatch = errors.New("transaction does not match contribution")

	// ErrNotMined means a submitted payout has no receipt yet.
	ErrNotMined = errors.New("payout transaction not mined")

	// ErrEmptyTxRef means the oracle accepted a transfer without returning a reference.
	ErrEmptyTxRef = errors.New("oracle returned an empty transaction reference")

	// ErrSubmissionInFlight means another executor holds the payout's submission claim.
	ErrSubmissionInFlight = errors.New("payout submission in flight")

	// ErrNoTreasury means the oracle has no wallet to pay from.
	ErrNoTreasury = errors.New("oracle has no treasury wallet")
)

// ValidationError is returned for requests that can never succeed as submitted.
// It is reported to the caller and never retried.
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

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
