package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the lifecycle state of a payout.
type PayoutStatus string

const (
	PayoutScheduled  PayoutStatus = "scheduled"
	// PayoutSubmitting marks a payout claimed by one executor for submission.
	PayoutSubmitting PayoutStatus = "submitting"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is the transfer of one round's pool to the rotation recipient.
// At most one payout exists per (GroupID, RoundNumber).
type Payout struct {
	ID      string
	GroupID string

	// RecipientID is the recipient's membership ID.
	RecipientID string

	RoundNumber int
	Amount      decimal.Decimal

	// TxRef is set once the transfer has been submitted to the ledger.
	TxRef string

	Status PayoutStatus

	ScheduledFor time.Time
	ProcessedAt  *time.Time
	CreatedAt    time.Time

	BlockNumber uint64
	GasUsed     uint64

	FailureReason string
}

// IsOpen reports whether the payout is still in flight.
func (p *Payout) IsOpen() bool {
	return p.Status == PayoutScheduled || p.Status == PayoutSubmitting || p.Status == PayoutProcessing
}
