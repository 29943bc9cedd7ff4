package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/storage"
)

const contributionColumns = `id, group_id, membership_id, amount, expected_amount, tx_ref, status, due_date,
	created_at, confirmed_at, block_number, gas_used, late_fee, notes, failure_reason`

// CreateContribution persists a pending contribution and claims its tx reference.
func (r *repo) CreateContribution(ctx context.Context, c *models.Contribution) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = models.ContributionPending
	}

	if err := r.registerTxRef(ctx, c.TxRef, "contribution", c.ID, c.CreatedAt); err != nil {
		return err
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GroupID, c.MembershipID, c.Amount.String(), c.ExpectedAmount.String(), c.TxRef, string(c.Status),
		millis(c.DueDate), millis(c.CreatedAt), nullMillis(c.ConfirmedAt), int64(c.BlockNumber), int64(c.GasUsed),
		c.LateFee.String(), c.Notes, c.FailureReason,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", c.TxRef, storage.ErrDuplicateTxRef)
	}
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}

	return nil
}

// GetContribution retrieves a contribution by ID.
func (r *repo) GetContribution(ctx context.Context, contributionID string) (*models.Contribution, error) {
	c, err := scanContribution(r.q.QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, contributionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contribution %s: %w", contributionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

// ListContributions retrieves every contribution of a group, oldest first.
func (r *repo) ListContributions(ctx context.Context, groupID string) ([]*models.Contribution, error) {
	return r.queryContributions(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE group_id = ? ORDER BY created_at, id`, groupID)
}

// ListConfirmedContributionsSince retrieves contributions confirmed strictly after since.
func (r *repo) ListConfirmedContributionsSince(ctx context.Context, groupID string, since time.Time) ([]*models.Contribution, error) {
	return r.queryContributions(ctx,
		`SELECT `+contributionColumns+` FROM contributions
		 WHERE group_id = ? AND status = ? AND confirmed_at > ?
		 ORDER BY confirmed_at, id`,
		groupID, string(models.ContributionConfirmed), millis(since))
}

// CountPendingContributions counts the pending contributions of one membership.
func (r *repo) CountPendingContributions(ctx context.Context, membershipID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contributions WHERE membership_id = ? AND status = ?`,
		membershipID, string(models.ContributionPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending contributions: %w", err)
	}
	return n, nil
}

// ListStalePendingContributions retrieves pending contributions older than cutoff
// that no live verification job will ever pick up again.
func (r *repo) ListStalePendingContributions(ctx context.Context, cutoff time.Time) ([]*models.Contribution, error) {
	return r.queryContributions(ctx,
		`SELECT `+contributionColumns+` FROM contributions c
		 WHERE c.status = ? AND c.created_at < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM jobs j
		     WHERE j.payload = c.id AND j.kind = ? AND j.status IN (?, ?)
		   )
		 ORDER BY c.created_at`,
		string(models.ContributionPending), millis(cutoff),
		string(models.JobVerifyContribution), string(models.JobQueued), string(models.JobRunning))
}

// ConfirmContribution moves a pending contribution to confirmed.
func (r *repo) ConfirmContribution(ctx context.Context, contributionID string, at time.Time, blockNumber, gasUsed uint64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE contributions SET status = ?, confirmed_at = ?, block_number = ?, gas_used = ?
		 WHERE id = ? AND status = ?`,
		string(models.ContributionConfirmed), millis(at), int64(blockNumber), int64(gasUsed),
		contributionID, string(models.ContributionPending))
	if err != nil {
		return fmt.Errorf("failed to confirm contribution: %w", err)
	}
	return affectedOne(res, "confirm contribution "+contributionID)
}

// FailContribution moves a pending contribution to failed.
func (r *repo) FailContribution(ctx context.Context, contributionID, reason string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE contributions SET status = ?, failure_reason = ? WHERE id = ? AND status = ?`,
		string(models.ContributionFailed), reason, contributionID, string(models.ContributionPending))
	if err != nil {
		return fmt.Errorf("failed to fail contribution: %w", err)
	}
	return affectedOne(res, "fail contribution "+contributionID)
}

func (r *repo) queryContributions(ctx context.Context, query string, args ...any) ([]*models.Contribution, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var contributions []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		contributions = append(contributions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contributions: %w", err)
	}

	return contributions, nil
}

func scanContribution(s rowScanner) (*models.Contribution, error) {
	c := &models.Contribution{}
	var status string
	var dueDate, createdAt, blockNumber, gasUsed int64
	var confirmedAt sql.NullInt64

	if err := s.Scan(&c.ID, &c.GroupID, &c.MembershipID, &c.Amount, &c.ExpectedAmount, &c.TxRef, &status,
		&dueDate, &createdAt, &confirmedAt, &blockNumber, &gasUsed, &c.LateFee, &c.Notes,
		&c.FailureReason); err != nil {
		return nil, err
	}

	c.Status = models.ContributionStatus(status)
	c.DueDate = fromMillis(dueDate)
	c.CreatedAt = fromMillis(createdAt)
	c.ConfirmedAt = timePtr(confirmedAt)
	c.BlockNumber = uint64(blockNumber)
	c.GasUsed = uint64(gasUsed)
	return c, nil
}
