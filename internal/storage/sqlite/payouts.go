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

const payoutColumns = `id, group_id, recipient_id, round_number, amount, tx_ref, status, scheduled_for,
	processed_at, created_at, block_number, gas_used, failure_reason`

// CreatePayout persists a scheduled payout. A second payout for the same round is rejected.
func (r *repo) CreatePayout(ctx context.Context, p *models.Payout) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PayoutScheduled
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payouts (`+payoutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GroupID, p.RecipientID, p.RoundNumber, p.Amount.String(), nullString(p.TxRef), string(p.Status),
		millis(p.ScheduledFor), nullMillis(p.ProcessedAt), millis(p.CreatedAt), int64(p.BlockNumber),
		int64(p.GasUsed), p.FailureReason,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("payout round %d of group %s: %w", p.RoundNumber, p.GroupID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	return nil
}

// GetPayout retrieves a payout by ID.
func (r *repo) GetPayout(ctx context.Context, payoutID string) (*models.Payout, error) {
	p, err := scanPayout(r.q.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, payoutID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payout %s: %w", payoutID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

// ListPayouts retrieves all payouts of a group ordered by round.
func (r *repo) ListPayouts(ctx context.Context, groupID string) ([]*models.Payout, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE group_id = ? ORDER BY round_number`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payouts: %w", err)
	}

	return payouts, nil
}

// LatestCompletedPayout retrieves the most recently processed completed payout.
func (r *repo) LatestCompletedPayout(ctx context.Context, groupID string) (*models.Payout, error) {
	p, err := scanPayout(r.q.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE group_id = ? AND status = ?
		 ORDER BY processed_at DESC, round_number DESC LIMIT 1`,
		groupID, string(models.PayoutCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completed payout of group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest completed payout: %w", err)
	}
	return p, nil
}

// OpenPayout retrieves the group's payout that is not yet completed or failed.
func (r *repo) OpenPayout(ctx context.Context, groupID string) (*models.Payout, error) {
	p, err := scanPayout(r.q.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE group_id = ? AND status IN (?, ?, ?)
		 ORDER BY round_number LIMIT 1`,
		groupID, string(models.PayoutScheduled), string(models.PayoutSubmitting), string(models.PayoutProcessing)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open payout of group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open payout: %w", err)
	}
	return p, nil
}

// MaxRoundNumber returns the highest round number used by the group, or 0.
func (r *repo) MaxRoundNumber(ctx context.Context, groupID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(round_number), 0) FROM payouts WHERE group_id = ?`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read max round number: %w", err)
	}
	return n, nil
}

// ClaimPayout moves a scheduled payout to submitting.
func (r *repo) ClaimPayout(ctx context.Context, payoutID string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET status = ? WHERE id = ? AND status = ?`,
		string(models.PayoutSubmitting), payoutID, string(models.PayoutScheduled))
	if err != nil {
		return fmt.Errorf("failed to claim payout: %w", err)
	}
	return affectedOne(res, "claim payout "+payoutID)
}

// ReleasePayout hands a claimed payout back to the scheduler for another attempt.
func (r *repo) ReleasePayout(ctx context.Context, payoutID string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET status = ? WHERE id = ? AND status = ?`,
		string(models.PayoutScheduled), payoutID, string(models.PayoutSubmitting))
	if err != nil {
		return fmt.Errorf("failed to release payout: %w", err)
	}
	return affectedOne(res, "release payout "+payoutID)
}

// MarkPayoutSubmitted records the submitted transfer and moves the claimed payout to processing.
func (r *repo) MarkPayoutSubmitted(ctx context.Context, payoutID, txRef string) error {
	if err := r.registerTxRef(ctx, txRef, "payout", payoutID, time.Now().UTC()); err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET status = ?, tx_ref = ? WHERE id = ? AND status = ?`,
		string(models.PayoutProcessing), txRef, payoutID, string(models.PayoutSubmitting))
	if err != nil {
		return fmt.Errorf("failed to mark payout submitted: %w", err)
	}
	return affectedOne(res, "submit payout "+payoutID)
}

// CompletePayout moves a processing payout to completed.
func (r *repo) CompletePayout(ctx context.Context, payoutID string, at time.Time, blockNumber, gasUsed uint64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET status = ?, processed_at = ?, block_number = ?, gas_used = ?
		 WHERE id = ? AND status = ?`,
		string(models.PayoutCompleted), millis(at), int64(blockNumber), int64(gasUsed),
		payoutID, string(models.PayoutProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete payout: %w", err)
	}
	return affectedOne(res, "complete payout "+payoutID)
}

// FailPayout moves an open payout to failed. The tx reference, if any, is kept.
func (r *repo) FailPayout(ctx context.Context, payoutID, reason string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET status = ?, failure_reason = ?, processed_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(models.PayoutFailed), reason, millis(at),
		payoutID, string(models.PayoutScheduled), string(models.PayoutSubmitting), string(models.PayoutProcessing))
	if err != nil {
		return fmt.Errorf("failed to fail payout: %w", err)
	}
	return affectedOne(res, "fail payout "+payoutID)
}

func scanPayout(s rowScanner) (*models.Payout, error) {
	p := &models.Payout{}
	var status string
	var txRef sql.NullString
	var scheduledFor, createdAt, blockNumber, gasUsed int64
	var processedAt sql.NullInt64

	if err := s.Scan(&p.ID, &p.GroupID, &p.RecipientID, &p.RoundNumber, &p.Amount, &txRef, &status,
		&scheduledFor, &processedAt, &createdAt, &blockNumber, &gasUsed, &p.FailureReason); err != nil {
		return nil, err
	}

	p.TxRef = txRef.String
	p.Status = models.PayoutStatus(status)
	p.ScheduledFor = fromMillis(scheduledFor)
	p.ProcessedAt = timePtr(processedAt)
	p.CreatedAt = fromMillis(createdAt)
	p.BlockNumber = uint64(blockNumber)
	p.GasUsed = uint64(gasUsed)
	return p, nil
}
