package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/storage"
)

const membershipColumns = `id, group_id, user_id, email, wallet_address, role, status, position,
	has_received_payout, total_contributed, joined_at, left_at`

// CreateMembership persists a new membership, assigning the next free rotation position.
func (r *repo) CreateMembership(ctx context.Context, m *models.Membership) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = models.MembershipActive
	}
	if m.Role == "" {
		m.Role = models.RoleMember
	}

	// Positions are never reused, so members who left keep their slot.
	var maxPos int
	if err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM memberships WHERE group_id = ?`, m.GroupID,
	).Scan(&maxPos); err != nil {
		return fmt.Errorf("failed to read max position: %w", err)
	}
	m.Position = maxPos + 1

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO memberships (`+membershipColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GroupID, m.UserID, m.Email, m.WalletAddress, string(m.Role), string(m.Status), m.Position,
		m.HasReceivedPayout, m.TotalContributed.String(), millis(m.JoinedAt), nullMillis(m.LeftAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("membership of user %s in group %s: %w", m.UserID, m.GroupID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}

	return nil
}

// GetMembership retrieves a membership by ID.
func (r *repo) GetMembership(ctx context.Context, membershipID string) (*models.Membership, error) {
	m, err := scanMembership(r.q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE id = ?`, membershipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership %s: %w", membershipID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembershipByUser retrieves the membership of a user in a group.
func (r *repo) GetMembershipByUser(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	m, err := scanMembership(r.q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = ? AND user_id = ?`, groupID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership of user %s in group %s: %w", userID, groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMemberships retrieves all memberships of a group ordered by rotation position.
func (r *repo) ListMemberships(ctx context.Context, groupID string) ([]*models.Membership, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return memberships, nil
}

// UpdateMembershipStatus changes a membership's status. Leaving records the time.
func (r *repo) UpdateMembershipStatus(ctx context.Context, membershipID string, status models.MembershipStatus, at time.Time) error {
	var leftAt sql.NullInt64
	if status == models.MembershipLeft {
		leftAt = nullMillis(&at)
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE memberships SET status = ?, left_at = COALESCE(?, left_at) WHERE id = ?`,
		string(status), leftAt, membershipID)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("membership %s: %w", membershipID, storage.ErrNotFound)
	}
	return nil
}

// MarkPayoutReceived flags the membership as paid for this rotation.
func (r *repo) MarkPayoutReceived(ctx context.Context, membershipID string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE memberships SET has_received_payout = 1 WHERE id = ? AND has_received_payout = 0`, membershipID)
	if err != nil {
		return fmt.Errorf("failed to mark payout received: %w", err)
	}
	return affectedOne(res, "mark payout received "+membershipID)
}

// AddContributed adds amount to the membership's running total.
// Decimal arithmetic happens in Go since amounts are stored as text.
func (r *repo) AddContributed(ctx context.Context, membershipID string, amount decimal.Decimal) error {
	var total decimal.Decimal
	err := r.q.QueryRowContext(ctx,
		`SELECT total_contributed FROM memberships WHERE id = ?`, membershipID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("membership %s: %w", membershipID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read total contributed: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE memberships SET total_contributed = ? WHERE id = ?`, total.Add(amount).String(), membershipID)
	if err != nil {
		return fmt.Errorf("failed to update total contributed: %w", err)
	}
	return nil
}

func scanMembership(s rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	var role, status string
	var joinedAt int64
	var leftAt sql.NullInt64

	if err := s.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Email, &m.WalletAddress, &role, &status, &m.Position,
		&m.HasReceivedPayout, &m.TotalContributed, &joinedAt, &leftAt); err != nil {
		return nil, err
	}

	m.Role = models.Role(role)
	m.Status = models.MembershipStatus(status)
	m.JoinedAt = fromMillis(joinedAt)
	m.LeftAt = timePtr(leftAt)
	return m, nil
}
