package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionStatus is the verification state of a contribution.
type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "pending"
	ContributionConfirmed ContributionStatus = "confirmed"
	ContributionFailed    ContributionStatus = "failed"
)

// Contribution is one claimed payment by a member into a group's current round.
// It is created pending and only the verifier moves it to confirmed or failed.
type Contribution struct {
	ID           string
	GroupID      string
	MembershipID string

	// Amount is what the member claims to have sent.
	Amount decimal.Decimal

	// ExpectedAmount is the group's contribution amount at submission time.
	ExpectedAmount decimal.Decimal

	// TxRef is the ledger transaction reference. Unique across contributions and payouts.
	TxRef string

	Status ContributionStatus

	DueDate     time.Time
	CreatedAt   time.Time
	ConfirmedAt *time.Time

	BlockNumber uint64
	GasUsed     uint64

	// LateFee is set by an external policy and stored as given.
	LateFee decimal.Decimal

	Notes string

	// FailureReason records why verification gave up.
	FailureReason string
}

// IsTerminal reports whether the contribution can no longer change state.
func (c *Contribution) IsTerminal() bool {
	return c.Status == ContributionConfirmed || c.Status == ContributionFailed
}
