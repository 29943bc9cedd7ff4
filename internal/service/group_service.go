package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// CreateGroupParams describes a new group.
type CreateGroupParams struct {
	Name               string
	Description        string
	ContributionAmount decimal.Decimal
	Frequency          models.Frequency
	MinMembers         int
	MaxMembers         int
	WalletAddress      string
	CreatedBy          string
	StartDate          time.Time
	EndDate            time.Time
}

// JoinGroupParams describes a user joining a group. Email and WalletAddress are
// taken from the identity system at join time. WalletAddress receives the
// member's payout and is required.
type JoinGroupParams struct {
	GroupID       string
	UserID        string
	Email         string
	WalletAddress string
	Role          models.Role
}

// SubmitContributionParams describes a member's claimed payment.
type SubmitContributionParams struct {
	GroupID string
	UserID  string
	Amount  decimal.Decimal
	TxRef   string
	DueDate time.Time
	LateFee decimal.Decimal
	Notes   string
}

// GroupService handles group intake: creating groups, membership changes and
// contribution claims. Requests are validated synchronously and anything
// asynchronous is enqueued in the same transaction.
type GroupService struct {
	store storage.Store
	now   func() time.Time
}

// NewGroupService creates a GroupService.
func NewGroupService(store storage.Store, now func() time.Time) *GroupService {
	return &GroupService{store: store, now: now}
}

// CreateGroup validates and persists a new active group.
func (s *GroupService) CreateGroup(ctx context.Context, params CreateGroupParams) (*models.Group, error) {
	name := strings.TrimSpace(params.Name)
	amount := params.ContributionAmount.Round(2)

	switch {
	case name == "":
		return nil, invalid("name", "must not be empty")
	case !amount.IsPositive():
		return nil, invalid("contribution_amount", "must be greater than 0")
	case !params.Frequency.Valid():
		return nil, invalid("frequency", "unknown frequency %q", params.Frequency)
	case params.MaxMembers < 2:
		return nil, invalid("max_members", "must be at least 2")
	case params.MinMembers < 0 || params.MinMembers > params.MaxMembers:
		return nil, invalid("min_members", "must be between 0 and max_members")
	case strings.TrimSpace(params.WalletAddress) == "":
		return nil, invalid("wallet_address", "must not be empty")
	case params.CreatedBy == "":
		return nil, invalid("created_by", "must not be empty")
	case !params.StartDate.IsZero() && !params.EndDate.IsZero() && !params.EndDate.After(params.StartDate):
		return nil, invalid("end_date", "must be after start_date")
	}

	group := &models.Group{
		Name:               name,
		Description:        params.Description,
		ContributionAmount: amount,
		Frequency:          params.Frequency,
		MinMembers:         params.MinMembers,
		MaxMembers:         params.MaxMembers,
		Status:             models.GroupActive,
		WalletAddress:      strings.TrimSpace(params.WalletAddress),
		CreatedBy:          params.CreatedBy,
		CreatedAt:          s.now(),
		StartDate:          params.StartDate,
		EndDate:            params.EndDate,
	}
	err := s.store.CreateGroup(ctx, group)
	if errors.Is(err, storage.ErrConflict) {
		return nil, invalid("name", "a group named %q already exists", name)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Group created", "group_id", group.ID, "name", group.Name, "max_members", group.MaxMembers)
	return group, nil
}

// JoinGroup adds the user to an active group that is not full.
// The creator joins as admin; everyone else gets the requested role or member.
func (s *GroupService) JoinGroup(ctx context.Context, params JoinGroupParams) (*models.Membership, error) {
	if params.UserID == "" {
		return nil, invalid("user_id", "must not be empty")
	}
	params.WalletAddress = strings.TrimSpace(params.WalletAddress)
	if params.WalletAddress == "" {
		return nil, invalid("wallet_address", "must not be empty")
	}

	var membership *models.Membership
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		group, err := repo.GetGroup(ctx, params.GroupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupActive {
			return invalid("group_id", "group is not active")
		}

		existing, err := repo.GetMembershipByUser(ctx, group.ID, params.UserID)
		if err == nil {
			if existing.Status == models.MembershipLeft {
				return invalid("user_id", "user has left this group")
			}
			return invalid("user_id", "user is already a member of this group")
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		memberships, err := repo.ListMemberships(ctx, group.ID)
		if err != nil {
			return err
		}
		if len(rotation.Active(memberships)) >= group.MaxMembers {
			return invalid("group_id", "group is full")
		}

		role := params.Role
		if params.UserID == group.CreatedBy {
			role = models.RoleAdmin
		}
		if role == "" {
			role = models.RoleMember
		}

		membership = &models.Membership{
			GroupID:          group.ID,
			UserID:           params.UserID,
			Email:            params.Email,
			WalletAddress:    params.WalletAddress,
			Role:             role,
			Status:           models.MembershipActive,
			TotalContributed: decimal.Zero,
			JoinedAt:         s.now(),
		}
		return repo.CreateMembership(ctx, membership)
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, invalid("user_id", "user is already a member of this group")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Member joined group",
		"group_id", membership.GroupID,
		"membership_id", membership.ID,
		"user_id", membership.UserID,
		"position", membership.Position,
	)
	return membership, nil
}

// LeaveGroup marks the user's membership as left. Members who were paid or have
// contributions awaiting verification cannot leave. If the remaining members
// have all contributed, the round is handed to the scheduler.
func (s *GroupService) LeaveGroup(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	var membership *models.Membership
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		group, err := repo.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		m, err := repo.GetMembershipByUser(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if m.Status == models.MembershipLeft {
			return invalid("user_id", "user has already left this group")
		}
		if m.HasReceivedPayout {
			return invalid("user_id", "cannot leave group after receiving payout")
		}
		pending, err := repo.CountPendingContributions(ctx, m.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return invalid("user_id", "cannot leave group with pending contributions")
		}

		now := s.now()
		if err := repo.UpdateMembershipStatus(ctx, m.ID, models.MembershipLeft, now); err != nil {
			return err
		}
		m.Status = models.MembershipLeft
		m.LeftAt = &now
		membership = m

		if group.Status != models.GroupActive {
			return nil
		}
		r, err := loadRound(ctx, repo, group)
		if err != nil {
			return err
		}
		if r.complete() {
			return repo.EnqueueJob(ctx, models.NewJob(models.JobSchedulePayout, group.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Member left group", "group_id", groupID, "membership_id", membership.ID, "user_id", userID)
	return membership, nil
}

// SubmitContribution records a pending contribution claim and enqueues its verification.
func (s *GroupService) SubmitContribution(ctx context.Context, params SubmitContributionParams) (*models.Contribution, error) {
	amount := params.Amount.Round(2)
	txRef := strings.TrimSpace(params.TxRef)

	switch {
	case !amount.IsPositive():
		return nil, invalid("amount", "must be greater than 0")
	case txRef == "":
		return nil, invalid("tx_ref", "must not be empty")
	case params.LateFee.IsNegative():
		return nil, invalid("late_fee", "must not be negative")
	}

	var contribution *models.Contribution
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		group, err := repo.GetGroup(ctx, params.GroupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupActive {
			return invalid("group_id", "group is not active")
		}

		m, err := repo.GetMembershipByUser(ctx, group.ID, params.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return invalid("user_id", "user is not a member of this group")
		}
		if err != nil {
			return err
		}
		if !m.IsActive() {
			return invalid("user_id", "membership is %s", m.Status)
		}

		now := s.now()
		contribution = &models.Contribution{
			GroupID:        group.ID,
			MembershipID:   m.ID,
			Amount:         amount,
			ExpectedAmount: group.ContributionAmount,
			TxRef:          txRef,
			Status:         models.ContributionPending,
			DueDate:        params.DueDate,
			CreatedAt:      now,
			LateFee:        params.LateFee,
			Notes:          params.Notes,
		}
		if err := repo.CreateContribution(ctx, contribution); err != nil {
			return err
		}
		return repo.EnqueueJob(ctx, models.NewJob(models.JobVerifyContribution, contribution.ID, now))
	})
	if errors.Is(err, storage.ErrDuplicateTxRef) {
		return nil, invalid("tx_ref", "transaction reference %s has already been used", txRef)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Contribution submitted",
		"contribution_id", contribution.ID,
		"group_id", contribution.GroupID,
		"membership_id", contribution.MembershipID,
		"amount", contribution.Amount.StringFixed(2),
		"tx_ref", contribution.TxRef,
	)
	return contribution, nil
}
