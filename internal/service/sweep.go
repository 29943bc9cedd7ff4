package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// expiredReason is recorded on contributions that stayed pending for too long.
const expiredReason = "expired"

// Sweeper runs the periodic maintenance passes.
type Sweeper struct {
	store      storage.Store
	notifier   notify.Notifier
	now        func() time.Time
	staleAfter time.Duration
}

// NewSweeper creates a Sweeper. Pending contributions older than staleAfter expire.
func NewSweeper(store storage.Store, notifier notify.Notifier, now func() time.Time, staleAfter time.Duration) *Sweeper {
	return &Sweeper{store: store, notifier: notifier, now: now, staleAfter: staleAfter}
}

// ExpireStaleContributions fails pending contributions that are older than the
// stale threshold and no longer have a verification job queued or running.
// They are kept as failed records rather than deleted.
func (s *Sweeper) ExpireStaleContributions(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePendingContributions(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range stale {
		err := s.store.FailContribution(ctx, c.ID, expiredReason)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}

	slog.Info("Stale contributions expired", "count", expired)
	return expired, nil
}

// SendReminders notifies every active member of every active group who has no
// confirmed contribution in the current round.
func (s *Sweeper) SendReminders(ctx context.Context) (int, error) {
	groups, err := s.store.ListGroups(ctx, models.GroupActive)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, group := range groups {
		r, err := loadRound(ctx, s.store, group)
		if err != nil {
			return sent, err
		}
		contributed := rotation.Contributors(r.memberships, r.confirmed)

		for _, m := range rotation.Active(r.memberships) {
			if contributed[m.ID] || m.Email == "" {
				continue
			}
			notify.Send(ctx, s.notifier, notify.Message{
				To:   m.Email,
				Kind: notify.ContributionReminder,
				Data: map[string]string{
					"group":       group.Name,
					"amount":      group.ContributionAmount.StringFixed(2),
					"round_start": r.start.Format(time.RFC3339),
					"wallet":      group.WalletAddress,
					"membership":  m.ID,
				},
			})
			sent++
		}
	}

	slog.Info("Contribution reminders sent", "count", sent)
	return sent, nil
}
