package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// GroupStats summarises a group's history.
type GroupStats struct {
	GroupID                string
	Status                 models.GroupStatus
	TotalContributions     decimal.Decimal
	ConfirmedContributions int
	TotalMembers           int
	ActiveMembers          int
	CompletedRounds        int
	TotalPaidOut           decimal.Decimal

	// NextPayoutDate and NextRecipientID describe the open payout, if any.
	NextPayoutDate  *time.Time
	NextRecipientID string
}

// Stats computes group statistics.
func Stats(ctx context.Context, repo storage.Repository, groupID string) (*GroupStats, error) {
	group, err := repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	memberships, err := repo.ListMemberships(ctx, groupID)
	if err != nil {
		return nil, err
	}
	contributions, err := repo.ListContributions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	payouts, err := repo.ListPayouts(ctx, groupID)
	if err != nil {
		return nil, err
	}

	stats := &GroupStats{
		GroupID:            group.ID,
		Status:             group.Status,
		TotalContributions: decimal.Zero,
		TotalMembers:       len(memberships),
		ActiveMembers:      len(rotation.Active(memberships)),
		TotalPaidOut:       decimal.Zero,
	}

	for _, c := range contributions {
		if c.Status == models.ContributionConfirmed {
			stats.ConfirmedContributions++
			stats.TotalContributions = stats.TotalContributions.Add(c.Amount)
		}
	}

	for _, p := range payouts {
		switch {
		case p.Status == models.PayoutCompleted:
			stats.CompletedRounds++
			stats.TotalPaidOut = stats.TotalPaidOut.Add(p.Amount)
		case p.IsOpen() && stats.NextPayoutDate == nil:
			at := p.ScheduledFor
			stats.NextPayoutDate = &at
			stats.NextRecipientID = p.RecipientID
		}
	}

	return stats, nil
}
