package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRecordKind tells which direction funds moved.
type LedgerRecordKind string

const (
	LedgerContribution LedgerRecordKind = "contribution"
	LedgerPayout       LedgerRecordKind = "payout"
)

// LedgerRecord is an append-only audit entry. It is never updated after creation.
type LedgerRecord struct {
	ID           string
	Kind         LedgerRecordKind
	TxRef        string
	GroupID      string
	MembershipID string

	// Exactly one of ContributionID and PayoutID is set.
	ContributionID string
	PayoutID       string

	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal

	GasPrice    uint64
	GasUsed     uint64
	BlockNumber uint64

	CreatedAt time.Time
}
