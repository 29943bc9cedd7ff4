package rotation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
)

func member(id string, pos int, paid bool) *models.Membership {
	return &models.Membership{ID: id, Position: pos, Status: models.MembershipActive, HasReceivedPayout: paid}
}

func left(m *models.Membership) *models.Membership {
	m.Status = models.MembershipLeft
	return m
}

func confirmed(membershipID, amount string) *models.Contribution {
	return &models.Contribution{
		MembershipID: membershipID,
		Amount:       decimal.RequireFromString(amount),
		Status:       models.ContributionConfirmed,
	}
}

func TestNextRecipient(t *testing.T) {
	tests := []struct {
		name        string
		memberships []*models.Membership
		last        *models.Membership
		wantID      string
		wantErr     error
	}{
		{
			name:        "first round goes to position 1",
			memberships: []*models.Membership{member("a", 1, false), member("b", 2, false), member("c", 3, false)},
			wantID:      "a",
		},
		{
			name:        "second round goes to position 2",
			memberships: []*models.Membership{member("a", 1, true), member("b", 2, false), member("c", 3, false)},
			last:        member("a", 1, true),
			wantID:      "b",
		},
		{
			name:        "wraps around to position 1",
			memberships: []*models.Membership{member("a", 1, false), member("b", 2, true), member("c", 3, true)},
			last:        member("c", 3, true),
			wantID:      "a",
		},
		{
			name:        "missing slot falls back to lowest unpaid",
			memberships: []*models.Membership{member("a", 1, true), left(member("b", 2, false)), member("c", 3, false)},
			last:        member("a", 1, true),
			// 1 % 2 + 1 = 2, whose holder left
			wantID: "c",
		},
		{
			name:        "paid slot falls back to lowest unpaid",
			memberships: []*models.Membership{member("a", 1, true), member("b", 2, true), member("c", 3, false)},
			last:        member("b", 2, true),
			// 2 % 3 + 1 = 3
			wantID: "c",
		},
		{
			name:        "position 1 left before the first payout",
			memberships: []*models.Membership{left(member("a", 1, false)), member("b", 2, false), member("c", 3, false)},
			wantID:      "b",
		},
		{
			name:        "everyone paid",
			memberships: []*models.Membership{member("a", 1, true), member("b", 2, true)},
			last:        member("b", 2, true),
			wantErr:     ErrRotationComplete,
		},
		{
			name:    "no members",
			wantErr: ErrRotationComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRecipient(tt.memberships, tt.last)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NextRecipient() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NextRecipient() unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("NextRecipient() = %s, want %s", got.ID, tt.wantID)
			}
			if got.HasReceivedPayout {
				t.Error("NextRecipient() returned a paid member")
			}
		})
	}
}

func TestRotationCoverage(t *testing.T) {
	// Running the rotation to the end pays every active member exactly once.
	memberships := []*models.Membership{
		member("a", 1, false), left(member("x", 2, false)), member("b", 3, false),
		member("c", 4, false), member("d", 5, false),
	}

	paid := make(map[string]int)
	var last *models.Membership
	for i := 0; i < 10; i++ {
		next, err := NextRecipient(memberships, last)
		if errors.Is(err, ErrRotationComplete) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		next.HasReceivedPayout = true
		paid[next.ID]++
		last = next
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		if paid[id] != 1 {
			t.Errorf("member %s paid %d times, want 1", id, paid[id])
		}
	}
	if paid["x"] != 0 {
		t.Error("member who left should not be paid")
	}
	if !AllPaid(memberships) {
		t.Error("AllPaid() = false after full rotation")
	}
}

func TestRoundComplete(t *testing.T) {
	a, b, c := member("a", 1, false), member("b", 2, false), member("c", 3, false)
	all := []*models.Membership{a, b, c}

	tests := []struct {
		name        string
		memberships []*models.Membership
		confirmed   []*models.Contribution
		want        bool
	}{
		{"M-1 contributors", all, []*models.Contribution{confirmed("a", "100"), confirmed("b", "100")}, false},
		{"M contributors", all, []*models.Contribution{confirmed("a", "100"), confirmed("b", "100"), confirmed("c", "100")}, true},
		{"duplicates count once", all, []*models.Contribution{confirmed("a", "100"), confirmed("a", "100"), confirmed("b", "100")}, false},
		{"inactive contributor ignored", []*models.Membership{a, b, left(member("x", 4, false))},
			[]*models.Contribution{confirmed("a", "100"), confirmed("x", "100")}, false},
		{"pending ignored", all, []*models.Contribution{confirmed("a", "100"), confirmed("b", "100"),
			{MembershipID: "c", Status: models.ContributionPending}}, false},
		{"no active members", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundComplete(tt.memberships, tt.confirmed); got != tt.want {
				t.Errorf("RoundComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowStart(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := created.AddDate(0, 0, 7)
	processed := start.AddDate(0, 1, 0)

	if got := WindowStart(&models.Group{CreatedAt: created}, nil); !got.Equal(created) {
		t.Errorf("WindowStart() = %v, want creation time", got)
	}
	if got := WindowStart(&models.Group{CreatedAt: created, StartDate: start}, nil); !got.Equal(start) {
		t.Errorf("WindowStart() = %v, want start date", got)
	}
	last := &models.Payout{Status: models.PayoutCompleted, ProcessedAt: &processed}
	if got := WindowStart(&models.Group{CreatedAt: created, StartDate: start}, last); !got.Equal(processed) {
		t.Errorf("WindowStart() = %v, want processed time", got)
	}
}

func TestPoolAmount(t *testing.T) {
	pool := PoolAmount([]*models.Contribution{
		confirmed("a", "100.00"), confirmed("b", "100.10"), confirmed("c", "99.90"),
		{MembershipID: "d", Amount: decimal.NewFromInt(50), Status: models.ContributionFailed},
	})
	if !pool.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("PoolAmount() = %s, want 300.00", pool)
	}
	if !PoolAmount(nil).IsZero() {
		t.Error("PoolAmount(nil) should be zero")
	}
}
