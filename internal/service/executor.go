package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mmynk/chamaledger/internal/ledger"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/retry"
	"github.com/mmynk/chamaledger/internal/rotation"
	"github.com/mmynk/chamaledger/internal/storage"
)

// Executor submits scheduled payouts to the ledger and confirms them.
type Executor struct {
	store    storage.Store
	oracle   ledger.Oracle
	notifier notify.Notifier
	now      func() time.Time
	timeout  time.Duration
}

// NewExecutor creates an Executor. Every oracle call is bounded by timeout.
func NewExecutor(store storage.Store, oracle ledger.Oracle, notifier notify.Notifier, now func() time.Time, timeout time.Duration) *Executor {
	return &Executor{store: store, oracle: oracle, notifier: notifier, now: now, timeout: timeout}
}

// Execute submits a scheduled payout. The payout is claimed before the oracle
// is called, so only one caller ever submits it. On success the payout moves
// to processing and a confirm_payout job is enqueued in the same transaction.
// A failed submission releases the claim and is returned as a retryable error.
func (e *Executor) Execute(ctx context.Context, payoutID string) error {
	p, err := e.store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	switch p.Status {
	case models.PayoutCompleted, models.PayoutFailed:
		slog.Debug("Payout already settled", "payout_id", p.ID, "status", p.Status)
		return nil
	case models.PayoutProcessing:
		// Already submitted; only make sure someone checks the receipt.
		slog.Info("Payout already submitted, re-enqueueing confirmation", "payout_id", p.ID, "tx_ref", p.TxRef)
		return e.store.EnqueueJob(ctx, models.NewJob(models.JobConfirmPayout, p.ID, e.now()))
	case models.PayoutSubmitting:
		// Held by another run, or left behind by one that stopped mid-submit.
		// Never resubmit; exhaustion fails the payout for manual review.
		return retry.Retryable(fmt.Errorf("payout %s: %w", p.ID, ErrSubmissionInFlight))
	}

	group, err := e.store.GetGroup(ctx, p.GroupID)
	if err != nil {
		return err
	}
	recipient, err := e.store.GetMembership(ctx, p.RecipientID)
	if err != nil {
		return err
	}
	if recipient.WalletAddress == "" {
		return fmt.Errorf("recipient %s has no wallet address", recipient.ID)
	}

	if err := e.store.ClaimPayout(ctx, p.ID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			slog.Info("Payout claimed by another executor", "payout_id", p.ID)
			return nil
		}
		return err
	}

	txRef, err := e.submit(ctx, p, recipient)
	if err != nil {
		if rerr := e.store.ReleasePayout(ctx, p.ID); rerr != nil {
			slog.Error("Releasing payout claim failed", "payout_id", p.ID, "error", rerr)
		}
		return err
	}

	err = e.store.InTx(ctx, func(repo storage.Repository) error {
		if err := repo.MarkPayoutSubmitted(ctx, p.ID, txRef); err != nil {
			return err
		}
		return repo.EnqueueJob(ctx, models.NewJob(models.JobConfirmPayout, p.ID, e.now()))
	})
	if err != nil {
		// The transfer is on its way but could not be recorded. The claim stays so
		// nobody submits again; the reference goes into the failure reason.
		slog.Error("Recording submitted payout failed", "payout_id", p.ID, "tx_ref", txRef, "error", err)
		return fmt.Errorf("failed to record payout submission %s (tx %s): %w", p.ID, txRef, err)
	}

	slog.Info("Payout submitted",
		"payout_id", p.ID,
		"group_id", group.ID,
		"recipient_id", recipient.ID,
		"amount", p.Amount.StringFixed(2),
		"tx_ref", txRef,
	)
	return nil
}

// submit checks the treasury balance and sends the transfer. Every error is retryable.
func (e *Executor) submit(ctx context.Context, p *models.Payout, recipient *models.Membership) (string, error) {
	treasury := e.oracle.TreasuryAddress()
	if treasury == "" {
		return "", retry.Retryable(ErrNoTreasury)
	}

	octx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	balance, err := e.oracle.GetBalance(octx, treasury)
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("failed to read treasury balance: %w", err))
	}
	if balance.LessThan(p.Amount) {
		return "", retry.Retryable(fmt.Errorf("%w: %s has %s, need %s", ledger.ErrInsufficientBalance,
			treasury, balance.String(), p.Amount.String()))
	}

	txRef, err := e.oracle.Submit(octx, recipient.WalletAddress, p.Amount)
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("failed to submit payout %s: %w", p.ID, err))
	}
	if txRef == "" {
		return "", retry.Retryable(fmt.Errorf("payout %s: %w", p.ID, ErrEmptyTxRef))
	}
	return txRef, nil
}

// ConfirmPayout checks the receipt of a submitted payout. A successful receipt
// completes the payout and marks the recipient paid; a failed receipt fails the
// payout for good. A missing receipt is returned as a retryable error.
func (e *Executor) ConfirmPayout(ctx context.Context, payoutID string) error {
	p, err := e.store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if p.Status == models.PayoutCompleted || p.Status == models.PayoutFailed {
		slog.Debug("Payout already settled", "payout_id", p.ID, "status", p.Status)
		return nil
	}
	if p.TxRef == "" {
		// Execute enqueues confirmation once the transfer is recorded.
		slog.Info("Payout not submitted yet, nothing to confirm", "payout_id", p.ID, "status", p.Status)
		return nil
	}

	octx, cancel := context.WithTimeout(ctx, e.timeout)
	receipt, err := e.oracle.GetReceipt(octx, p.TxRef)
	cancel()
	if err != nil {
		return retry.Retryable(fmt.Errorf("failed to get receipt %s: %w", p.TxRef, err))
	}
	if receipt == nil {
		return retry.Retryable(fmt.Errorf("%s: %w", p.TxRef, ErrNotMined))
	}

	if !receipt.Success {
		err := e.store.InTx(ctx, func(repo storage.Repository) error {
			return repo.FailPayout(ctx, p.ID, "transaction reverted on ledger", e.now())
		})
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		slog.Error("Payout transaction failed", "payout_id", p.ID, "tx_ref", p.TxRef)
		return nil
	}

	var (
		recipient      *models.Membership
		group          *models.Group
		groupCompleted bool
		completed      bool
	)
	err = e.store.InTx(ctx, func(repo storage.Repository) error {
		cur, err := repo.GetPayout(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.Status != models.PayoutProcessing {
			return nil
		}

		now := e.now()
		if err := repo.CompletePayout(ctx, p.ID, now, receipt.BlockNumber, receipt.GasUsed); err != nil {
			return err
		}
		if err := repo.MarkPayoutReceived(ctx, p.RecipientID); err != nil {
			return err
		}

		group, err = repo.GetGroup(ctx, p.GroupID)
		if err != nil {
			return err
		}
		recipient, err = repo.GetMembership(ctx, p.RecipientID)
		if err != nil {
			return err
		}

		if err := repo.AppendLedgerRecord(ctx, &models.LedgerRecord{
			Kind:         models.LedgerPayout,
			TxRef:        p.TxRef,
			GroupID:      p.GroupID,
			MembershipID: p.RecipientID,
			PayoutID:     p.ID,
			FromAddress:  e.oracle.TreasuryAddress(),
			ToAddress:    recipient.WalletAddress,
			Amount:       p.Amount,
			GasPrice:     receipt.GasPrice,
			GasUsed:      receipt.GasUsed,
			BlockNumber:  receipt.BlockNumber,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		memberships, err := repo.ListMemberships(ctx, p.GroupID)
		if err != nil {
			return err
		}
		if rotation.AllPaid(memberships) {
			groupCompleted = true
			if err := repo.UpdateGroupStatus(ctx, p.GroupID, models.GroupCompleted); err != nil {
				return err
			}
		}

		completed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete payout %s: %w", p.ID, err)
	}
	if !completed {
		return nil
	}

	slog.Info("Payout completed",
		"payout_id", p.ID,
		"group_id", p.GroupID,
		"round", p.RoundNumber,
		"recipient_id", p.RecipientID,
		"amount", p.Amount.StringFixed(2),
		"group_completed", groupCompleted,
	)

	notify.Send(ctx, e.notifier, notify.Message{
		To:   recipient.Email,
		Kind: notify.PayoutCompleted,
		Data: map[string]string{
			"group":  group.Name,
			"round":  strconv.Itoa(p.RoundNumber),
			"amount": p.Amount.StringFixed(2),
			"tx_ref": p.TxRef,
		},
	})
	return nil
}

// OnExhausted fails a payout whose submission or confirmation retries ran out.
// A submitted payout keeps its tx reference for audit.
func (e *Executor) OnExhausted(ctx context.Context, payoutID string, lastErr error) error {
	err := e.store.InTx(ctx, func(repo storage.Repository) error {
		return repo.FailPayout(ctx, payoutID, lastErr.Error(), e.now())
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	slog.Error("Payout failed after retries", "payout_id", payoutID, "error", lastErr)
	return nil
}
