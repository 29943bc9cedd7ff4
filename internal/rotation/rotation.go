// Package rotation implements the pure rules of a chama round: when the
// current round started, whether every active member has contributed,
// how large the pool is and who receives it next.
//
// Nothing here touches storage. Callers load the records and pass them in.
package rotation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
)

// ErrRotationComplete is returned when every active member has already been paid.
var ErrRotationComplete = errors.New("rotation complete: every active member has received a payout")

// Active returns the active memberships, keeping the input order.
func Active(memberships []*models.Membership) []*models.Membership {
	active := make([]*models.Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.IsActive() {
			active = append(active, m)
		}
	}
	return active
}

// WindowStart returns when the current round opened: the processed time of
// the latest completed payout, else the group's start date, else its creation time.
func WindowStart(group *models.Group, lastCompleted *models.Payout) time.Time {
	if lastCompleted != nil && lastCompleted.ProcessedAt != nil {
		return *lastCompleted.ProcessedAt
	}
	if !group.StartDate.IsZero() {
		return group.StartDate
	}
	return group.CreatedAt
}

// Contributors returns the IDs of active memberships that have at least one
// confirmed contribution among confirmed.
// confirmed must already be restricted to the current window.
func Contributors(memberships []*models.Membership, confirmed []*models.Contribution) map[string]bool {
	active := make(map[string]bool)
	for _, m := range Active(memberships) {
		active[m.ID] = true
	}

	seen := make(map[string]bool)
	for _, c := range confirmed {
		if c.Status != models.ContributionConfirmed {
			continue
		}
		if active[c.MembershipID] {
			seen[c.MembershipID] = true
		}
	}
	return seen
}

// RoundComplete reports whether every active member contributed in the window.
// A group without active members never completes a round.
func RoundComplete(memberships []*models.Membership, confirmed []*models.Contribution) bool {
	activeCount := len(Active(memberships))
	if activeCount == 0 {
		return false
	}
	return len(Contributors(memberships, confirmed)) >= activeCount
}

// PoolAmount sums the confirmed contribution amounts of the window.
func PoolAmount(confirmed []*models.Contribution) decimal.Decimal {
	total := decimal.Zero
	for _, c := range confirmed {
		if c.Status == models.ContributionConfirmed {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// NextRecipient picks who receives the next payout.
//
// With no previous recipient the member at position 1 is chosen. Otherwise the
// slot after the last recipient, (position mod activeCount)+1, is taken. If that
// slot is empty, inactive or already paid, the unpaid active member with the
// smallest position is chosen instead.
func NextRecipient(memberships []*models.Membership, lastRecipient *models.Membership) (*models.Membership, error) {
	active := Active(memberships)
	if len(active) == 0 {
		return nil, ErrRotationComplete
	}

	target := 1
	if lastRecipient != nil {
		target = lastRecipient.Position%len(active) + 1
	}

	for _, m := range active {
		if m.Position == target && !m.HasReceivedPayout {
			return m, nil
		}
	}

	// Fall back to the lowest unpaid position
	var next *models.Membership
	for _, m := range active {
		if m.HasReceivedPayout {
			continue
		}
		if next == nil || m.Position < next.Position {
			next = m
		}
	}
	if next == nil {
		return nil, ErrRotationComplete
	}
	return next, nil
}

// AllPaid reports whether the group has at least one active member and every
// active member has received a payout.
func AllPaid(memberships []*models.Membership) bool {
	active := Active(memberships)
	if len(active) == 0 {
		return false
	}
	for _, m := range active {
		if !m.HasReceivedPayout {
			return false
		}
	}
	return true
}
