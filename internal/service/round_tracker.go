package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// RoundStatus is a snapshot of a group's current round.
type RoundStatus struct {
	GroupID     string
	WindowStart time.Time

	// Round is the number the next payout will carry, or the open payout's number.
	Round int

	ActiveMembers int
	Contributors  int
	Pool          decimal.Decimal
	Complete      bool

	// OpenPayout is the scheduled or processing payout, if any.
	OpenPayout *models.Payout
}

// RoundTracker answers questions about the current round. Every answer is
// recomputed from persisted state.
type RoundTracker struct {
	store storage.Store
}

// NewRoundTracker creates a RoundTracker.
func NewRoundTracker(store storage.Store) *RoundTracker {
	return &RoundTracker{store: store}
}

// WindowStart returns when the group's current round opened.
func (t *RoundTracker) WindowStart(ctx context.Context, groupID string) (time.Time, error) {
	group, err := t.store.GetGroup(ctx, groupID)
	if err != nil {
		return time.Time{}, err
	}
	return windowStart(ctx, t.store, group)
}

// IsRoundComplete reports whether every active member has a confirmed contribution
// in the current window.
func (t *RoundTracker) IsRoundComplete(ctx context.Context, groupID string) (bool, error) {
	group, err := t.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	r, err := loadRound(ctx, t.store, group)
	if err != nil {
		return false, err
	}
	return r.complete(), nil
}

// Status returns a snapshot of the group's current round.
func (t *RoundTracker) Status(ctx context.Context, groupID string) (*RoundStatus, error) {
	group, err := t.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	r, err := loadRound(ctx, t.store, group)
	if err != nil {
		return nil, err
	}

	status := &RoundStatus{
		GroupID:       group.ID,
		WindowStart:   r.start,
		ActiveMembers: len(rotation.Active(r.memberships)),
		Contributors:  len(rotation.Contributors(r.memberships, r.confirmed)),
		Pool:          rotation.PoolAmount(r.confirmed),
		Complete:      r.complete(),
	}

	open, err := t.store.OpenPayout(ctx, group.ID)
	switch {
	case err == nil:
		status.OpenPayout = open
		status.Round = open.RoundNumber
	case errors.Is(err, storage.ErrNotFound):
		maxRound, err := t.store.MaxRoundNumber(ctx, group.ID)
		if err != nil {
			return nil, err
		}
		status.Round = maxRound + 1
	default:
		return nil, err
	}

	return status, nil
}

// round holds the records that decide the current round.
type round struct {
	start       time.Time
	memberships []*models.Membership
	confirmed   []*models.Contribution
	last        *models.Payout
}

func (r *round) complete() bool {
	return rotation.RoundComplete(r.memberships, r.confirmed)
}

// latestCompleted returns the latest completed payout or nil.
func latestCompleted(ctx context.Context, repo storage.Repository, groupID string) (*models.Payout, error) {
	last, err := repo.LatestCompletedPayout(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

func windowStart(ctx context.Context, repo storage.Repository, group *models.Group) (time.Time, error) {
	last, err := latestCompleted(ctx, repo, group.ID)
	if err != nil {
		return time.Time{}, err
	}
	return rotation.WindowStart(group, last), nil
}

// loadRound reads everything the round rules need through repo, which may be a transaction.
func loadRound(ctx context.Context, repo storage.Repository, group *models.Group) (*round, error) {
	last, err := latestCompleted(ctx, repo, group.ID)
	if err != nil {
		return nil, err
	}
	start := rotation.WindowStart(group, last)

	memberships, err := repo.ListMemberships(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	confirmed, err := repo.ListConfirmedContributionsSince(ctx, group.ID, start)
	if err != nil {
		return nil, err
	}

	return &round{start: start, memberships: memberships, confirmed: confirmed, last: last}, nil
}

// lastRecipient returns the membership paid by last, or nil.
func (r *round) lastRecipient() *models.Membership {
	if r.last == nil {
		return nil
	}
	for _, m := range r.memberships {
		if m.ID == r.last.RecipientID {
			return m
		}
	}
	return nil
}
