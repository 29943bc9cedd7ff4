// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write loses against a uniqueness constraint
	// or a conditional update finds the record in an unexpected state.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateTxRef is returned when a transaction reference is already registered
	// to another contribution or payout.
	ErrDuplicateTxRef = errors.New("transaction reference already registered")
)

// Repository defines the record operations shared by the store and its transactions.
// This abstraction allows swapping storage backends without changing the service layer.
type Repository interface {
	// CreateGroup persists a new group. ID and CreatedAt are populated if unset.
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	// ListGroups returns groups with the given status, or all groups when status is empty.
	ListGroups(ctx context.Context, status models.GroupStatus) ([]*models.Group, error)
	UpdateGroupStatus(ctx context.Context, groupID string, status models.GroupStatus) error

	// CreateMembership persists a new membership and assigns its rotation position
	// as max(existing positions)+1 within the group.
	CreateMembership(ctx context.Context, membership *models.Membership) error
	GetMembership(ctx context.Context, membershipID string) (*models.Membership, error)
	GetMembershipByUser(ctx context.Context, groupID, userID string) (*models.Membership, error)
	// ListMemberships returns every membership of the group ordered by position.
	ListMemberships(ctx context.Context, groupID string) ([]*models.Membership, error)
	UpdateMembershipStatus(ctx context.Context, membershipID string, status models.MembershipStatus, at time.Time) error
	MarkPayoutReceived(ctx context.Context, membershipID string) error
	AddContributed(ctx context.Context, membershipID string, amount decimal.Decimal) error

	// CreateContribution persists a pending contribution and registers its tx reference.
	CreateContribution(ctx context.Context, contribution *models.Contribution) error
	GetContribution(ctx context.Context, contributionID string) (*models.Contribution, error)
	ListContributions(ctx context.Context, groupID string) ([]*models.Contribution, error)
	// ListConfirmedContributionsSince returns confirmed contributions whose
	// confirmation time is strictly after since.
	ListConfirmedContributionsSince(ctx context.Context, groupID string, since time.Time) ([]*models.Contribution, error)
	CountPendingContributions(ctx context.Context, membershipID string) (int, error)
	// ListStalePendingContributions returns pending contributions created before cutoff
	// that have no queued or running verification job.
	ListStalePendingContributions(ctx context.Context, cutoff time.Time) ([]*models.Contribution, error)
	// ConfirmContribution moves a pending contribution to confirmed.
	// Returns ErrConflict if it is no longer pending.
	ConfirmContribution(ctx context.Context, contributionID string, at time.Time, blockNumber, gasUsed uint64) error
	// FailContribution moves a pending contribution to failed.
	// Returns ErrConflict if it is no longer pending.
	FailContribution(ctx context.Context, contributionID, reason string) error

	// CreatePayout persists a scheduled payout.
	// Returns ErrConflict if the (group, round number) pair already exists.
	CreatePayout(ctx context.Context, payout *models.Payout) error
	GetPayout(ctx context.Context, payoutID string) (*models.Payout, error)
	ListPayouts(ctx context.Context, groupID string) ([]*models.Payout, error)
	LatestCompletedPayout(ctx context.Context, groupID string) (*models.Payout, error)
	// OpenPayout returns the group's scheduled, submitting or processing payout, if any.
	OpenPayout(ctx context.Context, groupID string) (*models.Payout, error)
	MaxRoundNumber(ctx context.Context, groupID string) (int, error)
	// ClaimPayout moves a scheduled payout to submitting. Exactly one caller wins;
	// the others get ErrConflict.
	ClaimPayout(ctx context.Context, payoutID string) error
	// ReleasePayout moves a submitting payout back to scheduled.
	ReleasePayout(ctx context.Context, payoutID string) error
	// MarkPayoutSubmitted stores the tx reference of a submitting payout and moves it to processing.
	MarkPayoutSubmitted(ctx context.Context, payoutID, txRef string) error
	// CompletePayout moves a processing payout to completed.
	CompletePayout(ctx context.Context, payoutID string, at time.Time, blockNumber, gasUsed uint64) error
	// FailPayout moves an open payout to failed.
	FailPayout(ctx context.Context, payoutID, reason string, at time.Time) error

	// AppendLedgerRecord inserts an audit record. Records are never updated.
	AppendLedgerRecord(ctx context.Context, record *models.LedgerRecord) error
	ListLedgerRecords(ctx context.Context, groupID string) ([]*models.LedgerRecord, error)

	// EnqueueJob persists a queued job. Inside InTx it commits together with the
	// state change that produced it.
	EnqueueJob(ctx context.Context, job *models.Job) error
}

// Store is a Repository that can run a function inside a database transaction.
type Store interface {
	Repository

	// InTx runs fn in a transaction. The transaction commits if fn returns nil
	// and rolls back otherwise. fn must only use the Repository it is given.
	InTx(ctx context.Context, fn func(repo Repository) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Queue is the persistent job queue consumed by the worker pool.
type Queue interface {
	EnqueueJob(ctx context.Context, job *models.Job) error

	// ClaimJob marks the next due job as running and returns it.
	// Jobs left running for longer than lease are considered abandoned and reclaimed.
	// Returns nil and no error when nothing is due.
	ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID string, now time.Time) error
	RetryJob(ctx context.Context, jobID string, notBefore time.Time, attempt int, lastErr string, now time.Time) error
	BuryJob(ctx context.Context, jobID, lastErr string, now time.Time) error
	ListJobs(ctx context.Context, payload string) ([]*models.Job, error)
}
