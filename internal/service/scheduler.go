package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// Scheduler turns a completed round into a scheduled payout for the next member in rotation.
type Scheduler struct {
	store       storage.Store
	notifier    notify.Notifier
	now         func() time.Time
	payoutDelay time.Duration
}

// NewScheduler creates a Scheduler. Payouts run payoutDelay after they are scheduled.
func NewScheduler(store storage.Store, notifier notify.Notifier, now func() time.Time, payoutDelay time.Duration) *Scheduler {
	return &Scheduler{store: store, notifier: notifier, now: now, payoutDelay: payoutDelay}
}

// NextRecipient returns the member who would receive the next payout.
func (s *Scheduler) NextRecipient(ctx context.Context, groupID string) (*models.Membership, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	r, err := loadRound(ctx, s.store, group)
	if err != nil {
		return nil, err
	}
	return rotation.NextRecipient(r.memberships, r.lastRecipient())
}

// ScheduleNextPayout creates the payout of the current round if the round is complete
// and no payout is open. It returns the new payout, or nil when nothing was scheduled.
// The execute_payout job is enqueued in the same transaction.
func (s *Scheduler) ScheduleNextPayout(ctx context.Context, groupID string) (*models.Payout, error) {
	var (
		payout    *models.Payout
		recipient *models.Membership
		group     *models.Group
	)

	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		var err error
		group, err = repo.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupActive {
			slog.Info("Group not active, skipping payout", "group_id", groupID, "status", group.Status)
			return nil
		}

		r, err := loadRound(ctx, repo, group)
		if err != nil {
			return err
		}
		if !r.complete() {
			slog.Debug("Round not complete, skipping payout", "group_id", groupID)
			return nil
		}

		open, err := repo.OpenPayout(ctx, groupID)
		if err == nil {
			slog.Info("Payout already open, skipping", "group_id", groupID, "payout_id", open.ID, "round", open.RoundNumber)
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		next, err := rotation.NextRecipient(r.memberships, r.lastRecipient())
		if errors.Is(err, rotation.ErrRotationComplete) {
			slog.Info("Rotation complete, closing group", "group_id", groupID)
			return repo.UpdateGroupStatus(ctx, groupID, models.GroupCompleted)
		}
		if err != nil {
			return err
		}

		maxRound, err := repo.MaxRoundNumber(ctx, groupID)
		if err != nil {
			return err
		}

		now := s.now()
		p := &models.Payout{
			GroupID:      groupID,
			RecipientID:  next.ID,
			RoundNumber:  maxRound + 1,
			Amount:       rotation.PoolAmount(r.confirmed),
			Status:       models.PayoutScheduled,
			ScheduledFor: now.Add(s.payoutDelay),
			CreatedAt:    now,
		}
		if err := repo.CreatePayout(ctx, p); err != nil {
			return err
		}
		if err := repo.EnqueueJob(ctx, models.NewJob(models.JobExecutePayout, p.ID, p.ScheduledFor)); err != nil {
			return err
		}

		payout, recipient = p, next
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		// Another scheduler created this round first.
		slog.Info("Payout round already taken", "group_id", groupID, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, nil
	}

	slog.Info("Payout scheduled",
		"group_id", groupID,
		"payout_id", payout.ID,
		"round", payout.RoundNumber,
		"recipient_id", recipient.ID,
		"amount", payout.Amount.StringFixed(2),
		"scheduled_for", payout.ScheduledFor,
	)

	notify.Send(ctx, s.notifier, notify.Message{
		To:   recipient.Email,
		Kind: notify.PayoutScheduled,
		Data: map[string]string{
			"group":         group.Name,
			"round":         strconv.Itoa(payout.RoundNumber),
			"amount":        payout.Amount.StringFixed(2),
			"scheduled_for": payout.ScheduledFor.Format(time.RFC3339),
		},
	})

	return payout, nil
}
