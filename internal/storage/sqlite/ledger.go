package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/storage"
)

const ledgerColumns = `id, kind, tx_ref, group_id, membership_id, contribution_id, payout_id,
	from_address, to_address, amount, gas_price, gas_used, block_number, created_at`

// AppendLedgerRecord inserts an immutable audit record.
// A second record for the same tx reference or subject is rejected with ErrConflict.
func (r *repo) AppendLedgerRecord(ctx context.Context, rec *models.LedgerRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO ledger_records (`+ledgerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.TxRef, rec.GroupID, rec.MembershipID,
		nullString(rec.ContributionID), nullString(rec.PayoutID), rec.FromAddress, rec.ToAddress,
		rec.Amount.String(), int64(rec.GasPrice), int64(rec.GasUsed), int64(rec.BlockNumber), millis(rec.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger record for %s: %w", rec.TxRef, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger record: %w", err)
	}

	return nil
}

// ListLedgerRecords retrieves a group's audit trail in insertion order.
func (r *repo) ListLedgerRecords(ctx context.Context, groupID string) ([]*models.LedgerRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_records WHERE group_id = ? ORDER BY created_at, rowid`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	var records []*models.LedgerRecord
	for rows.Next() {
		rec := &models.LedgerRecord{}
		var kind string
		var contributionID, payoutID sql.NullString
		var gasPrice, gasUsed, blockNumber, createdAt int64

		if err := rows.Scan(&rec.ID, &kind, &rec.TxRef, &rec.GroupID, &rec.MembershipID,
			&contributionID, &payoutID, &rec.FromAddress, &rec.ToAddress, &rec.Amount,
			&gasPrice, &gasUsed, &blockNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}

		rec.Kind = models.LedgerRecordKind(kind)
		rec.ContributionID = contributionID.String
		rec.PayoutID = payoutID.String
		rec.GasPrice = uint64(gasPrice)
		rec.GasUsed = uint64(gasUsed)
		rec.BlockNumber = uint64(blockNumber)
		rec.CreatedAt = fromMillis(createdAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger records: %w", err)
	}

	return records, nil
}
