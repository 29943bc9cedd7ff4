package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/chamaledger/internal/ledger"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/retry"
	"github.com/mmynk/chamaledger/internal/storage"
)

// Verifier confirms pending contributions against the ledger oracle.
type Verifier struct {
	store   storage.Store
	oracle  ledger.Oracle
	now     func() time.Time
	timeout time.Duration
}

// NewVerifier creates a Verifier. Every oracle call is bounded by timeout.
func NewVerifier(store storage.Store, oracle ledger.Oracle, now func() time.Time, timeout time.Duration) *Verifier {
	return &Verifier{store: store, oracle: oracle, now: now, timeout: timeout}
}

// Verify checks a pending contribution on the ledger and confirms it once the
// transaction is final and matches. Transient outcomes are returned as retryable
// errors. Verifying a settled contribution is a no-op.
func (v *Verifier) Verify(ctx context.Context, contributionID string) error {
	c, err := v.store.GetContribution(ctx, contributionID)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		slog.Debug("Contribution already settled", "contribution_id", c.ID, "status", c.Status)
		return nil
	}

	group, err := v.store.GetGroup(ctx, c.GroupID)
	if err != nil {
		return err
	}

	octx, cancel := context.WithTimeout(ctx, v.timeout)
	res, err := v.oracle.VerifyTransaction(octx, c.TxRef, c.Amount, group.WalletAddress)
	cancel()
	if err != nil {
		return retry.Retryable(fmt.Errorf("failed to verify transaction %s: %w", c.TxRef, err))
	}
	switch {
	case !res.Found:
		return retry.Retryable(fmt.Errorf("%s: %w", c.TxRef, ErrTxNotFound))
	case !res.Final:
		return retry.Retryable(fmt.Errorf("%s: %w", c.TxRef, ErrNotFinal))
	case !res.Valid:
		return retry.Retryable(fmt.Errorf("%s: %w: %s", c.TxRef, ErrVerificationMismatch, strings.Join(res.Errors, "; ")))
	}

	scheduled := false
	err = v.store.InTx(ctx, func(repo storage.Repository) error {
		cur, err := repo.GetContribution(ctx, c.ID)
		if err != nil {
			return err
		}
		if cur.Status != models.ContributionPending {
			return nil
		}

		now := v.now()
		if err := repo.ConfirmContribution(ctx, c.ID, now, res.BlockNumber, res.GasUsed); err != nil {
			return err
		}
		if err := repo.AddContributed(ctx, c.MembershipID, c.Amount); err != nil {
			return err
		}
		if err := repo.AppendLedgerRecord(ctx, &models.LedgerRecord{
			Kind:           models.LedgerContribution,
			TxRef:          c.TxRef,
			GroupID:        c.GroupID,
			MembershipID:   c.MembershipID,
			ContributionID: c.ID,
			FromAddress:    res.From,
			ToAddress:      group.WalletAddress,
			Amount:         c.Amount,
			GasPrice:       res.GasPrice,
			GasUsed:        res.GasUsed,
			BlockNumber:    res.BlockNumber,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		r, err := loadRound(ctx, repo, group)
		if err != nil {
			return err
		}
		if !r.complete() {
			return nil
		}
		scheduled = true
		return repo.EnqueueJob(ctx, models.NewJob(models.JobSchedulePayout, group.ID, now))
	})
	if err != nil {
		return fmt.Errorf("failed to confirm contribution %s: %w", c.ID, err)
	}

	slog.Info("Contribution confirmed",
		"contribution_id", c.ID,
		"group_id", c.GroupID,
		"membership_id", c.MembershipID,
		"amount", c.Amount.StringFixed(2),
		"block", res.BlockNumber,
		"round_complete", scheduled,
	)
	return nil
}

// OnExhausted marks a contribution failed once verification retries run out.
func (v *Verifier) OnExhausted(ctx context.Context, contributionID string, lastErr error) error {
	return v.store.InTx(ctx, func(repo storage.Repository) error {
		c, err := repo.GetContribution(ctx, contributionID)
		if err != nil {
			return err
		}
		if c.Status != models.ContributionPending {
			return nil
		}
		slog.Warn("Contribution verification failed", "contribution_id", c.ID, "tx_ref", c.TxRef, "error", lastErr)
		return repo.FailContribution(ctx, c.ID, lastErr.Error())
	})
}
