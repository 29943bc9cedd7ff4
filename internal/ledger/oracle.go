// Package ledger defines the contract between the engine and the external
// ledger (blockchain) that settles contributions and payouts.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidReference is returned when a tx reference cannot be parsed by the oracle.
	ErrInvalidReference = errors.New("invalid transaction reference")

	// ErrInsufficientBalance is returned by Submit when the treasury cannot cover the transfer.
	ErrInsufficientBalance = errors.New("insufficient treasury balance")
)

// Verification is the oracle's view of a claimed transaction.
type Verification struct {
	// Found is false when the ledger does not know the reference (yet).
	Found bool

	// Final is true once the transaction can no longer be rolled back.
	Final bool

	// Valid is true when the transaction succeeded and matches the expected
	// recipient and amount. Only meaningful when Final is true.
	Valid bool

	From   string
	To     string
	Amount decimal.Decimal

	GasUsed     uint64
	GasPrice    uint64
	BlockNumber uint64

	// Errors lists every mismatch found.
	Errors []string
}

// Receipt is the outcome of a submitted transfer once it has been mined.
type Receipt struct {
	TxRef       string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    uint64
	From        string
	To          string
}

// Oracle answers questions about the external ledger and submits transfers.
// Every call is bounded by ctx. Implementations must be safe for concurrent use.
type Oracle interface {
	// VerifyTransaction checks that txRef paid expectedAmount to expectedTo.
	VerifyTransaction(ctx context.Context, txRef string, expectedAmount decimal.Decimal, expectedTo string) (*Verification, error)

	// GetReceipt returns the receipt of txRef, or nil if it has not been mined yet.
	GetReceipt(ctx context.Context, txRef string) (*Receipt, error)

	// Submit sends amount from the treasury to the given address and returns the tx reference.
	Submit(ctx context.Context, to string, amount decimal.Decimal) (string, error)

	// GetBalance returns the balance held at address.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// TreasuryAddress returns the address Submit debits, or "" if the oracle cannot submit.
	TreasuryAddress() string

	// Close releases the underlying client.
	Close() error
}
