package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/chamaledger/internal/ledger"
	"github.com/mmynk/chamaledger/internal/ledger/ledgertest"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/retry"
	"github.com/mmynk/chamaledger/internal/storage"
)

func TestRotationScenario(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("umoja", "100.00", 5)
	a := h.join(group, "alice")
	b := h.join(group, "bob")
	c := h.join(group, "carol")

	require.Equal(t, []int{1, 2, 3}, []int{a.Position, b.Position, c.Position})

	// Round 1
	for _, ref := range []string{"tx-a1", "tx-b1", "tx-c1"} {
		h.oracle.OnVerify(ref, ledgertest.Valid(100))
	}
	h.contribute(group, "alice", "tx-a1", "100.00")
	h.contribute(group, "bob", "tx-b1", "100.00")
	h.contribute(group, "carol", "tx-c1", "100.00")
	h.drain(time.Minute)

	payouts := h.payouts(group.ID)
	require.Len(t, payouts, 1)
	round1 := payouts[0]
	assert.Equal(t, 1, round1.RoundNumber)
	assert.Equal(t, a.ID, round1.RecipientID)
	assert.True(t, round1.Amount.Equal(dec("300.00")), "amount = %s", round1.Amount)
	assert.Equal(t, models.PayoutScheduled, round1.Status)
	assert.True(t, round1.ScheduledFor.Equal(h.clock.Now().Add(24*time.Hour)))

	scheduled := h.notes.Messages(notify.PayoutScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "alice@example.com", scheduled[0].To)
	assert.Equal(t, "300.00", scheduled[0].Data["amount"])

	// Not due yet
	h.drain(time.Hour)
	assert.Zero(t, h.oracle.SubmitCalls())

	h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{TxRef: "payout-tx-1", Success: true, BlockNumber: 900, GasUsed: 5000}, nil)
	h.drain(23 * time.Hour)

	round1, err := h.store.GetPayout(h.ctx, round1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, round1.Status)
	assert.Equal(t, "payout-tx-1", round1.TxRef)
	assert.Equal(t, uint64(900), round1.BlockNumber)
	require.NotNil(t, round1.ProcessedAt)
	assert.True(t, h.membership(a.ID).HasReceivedPayout)
	assert.False(t, h.membership(b.ID).HasReceivedPayout)

	transfers := h.oracle.Submitted()
	require.Len(t, transfers, 1)
	assert.Equal(t, "wallet-alice", transfers[0].To)
	assert.True(t, transfers[0].Amount.Equal(dec("300")))

	completed := h.notes.Messages(notify.PayoutCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "alice@example.com", completed[0].To)

	records := h.ledger(group.ID)
	require.Len(t, records, 4)
	assert.Equal(t, models.LedgerPayout, records[3].Kind)
	assert.Equal(t, "wallet-alice", records[3].ToAddress)

	// Round 1 contributions no longer count
	complete, err := h.engine.Tracker.IsRoundComplete(h.ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, complete)

	// Round 2
	for _, ref := range []string{"tx-a2", "tx-b2", "tx-c2"} {
		h.oracle.OnVerify(ref, ledgertest.Valid(200))
	}
	h.clock.Advance(time.Hour)
	h.contribute(group, "alice", "tx-a2", "100.00")
	h.contribute(group, "bob", "tx-b2", "100.00")
	h.contribute(group, "carol", "tx-c2", "100.00")
	h.drain(time.Minute)

	payouts = h.payouts(group.ID)
	require.Len(t, payouts, 2)
	assert.Equal(t, 2, payouts[1].RoundNumber)
	assert.Equal(t, b.ID, payouts[1].RecipientID)
	assert.True(t, payouts[1].Amount.Equal(dec("300.00")))

	status, err := h.engine.Tracker.Status(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Round)
	require.NotNil(t, status.OpenPayout)
	assert.True(t, status.WindowStart.Equal(*round1.ProcessedAt))
}

func TestRoundCompletionThreshold(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("threshold", "50.00", 3)
	h.join(group, "a")
	h.join(group, "b")
	h.join(group, "c")
	for _, ref := range []string{"ta", "tb", "tc"} {
		h.oracle.OnVerify(ref, ledgertest.Valid(1))
	}

	h.contribute(group, "a", "ta", "50")
	h.contribute(group, "b", "tb", "50")
	h.drain(time.Minute)

	complete, err := h.engine.Tracker.IsRoundComplete(h.ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, complete, "M-1 contributors")
	assert.Empty(t, h.payouts(group.ID))

	h.contribute(group, "c", "tc", "50")
	h.drain(time.Minute)

	complete, err = h.engine.Tracker.IsRoundComplete(h.ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, complete, "M contributors")
	assert.Len(t, h.payouts(group.ID), 1)
}

func TestVerifyNotFinalThenValid(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("patience", "100.00", 3)
	m := h.join(group, "a")
	h.join(group, "b")

	h.oracle.OnVerify("tx-slow", ledgertest.NotFinal(), ledgertest.NotFinal(), ledgertest.Valid(77))
	c := h.contribute(group, "a", "tx-slow", "100.00")

	h.drain(time.Second)
	assert.Equal(t, models.ContributionPending, h.contribution(c.ID).Status)
	h.drain(60 * time.Second)
	assert.Equal(t, models.ContributionPending, h.contribution(c.ID).Status)
	h.drain(120 * time.Second)

	got := h.contribution(c.ID)
	assert.Equal(t, models.ContributionConfirmed, got.Status)
	assert.Equal(t, uint64(77), got.BlockNumber)
	assert.Equal(t, 3, h.oracle.VerifyCalls("tx-slow"))

	records := h.ledger(group.ID)
	require.Len(t, records, 1)
	assert.Equal(t, c.ID, records[0].ContributionID)

	// Verifying again changes nothing and does not reach the oracle
	require.NoError(t, h.engine.Verifier.Verify(h.ctx, c.ID))
	assert.Equal(t, 3, h.oracle.VerifyCalls("tx-slow"))
	assert.Len(t, h.ledger(group.ID), 1)
	assert.True(t, h.membership(m.ID).TotalContributed.Equal(dec("100")))
}

func TestVerifyRetryTermination(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("mismatch", "100.00", 3)
	m := h.join(group, "a")

	h.oracle.OnVerify("tx-short", ledgertest.Mismatch(dec("50")))
	c := h.contribute(group, "a", "tx-short", "100.00")

	h.drain(time.Second)
	for _, d := range []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second} {
		assert.Equal(t, models.ContributionPending, h.contribution(c.ID).Status)
		h.drain(d)
	}

	got := h.contribution(c.ID)
	assert.Equal(t, models.ContributionFailed, got.Status)
	assert.Contains(t, got.FailureReason, "does not match")
	assert.Equal(t, 4, h.oracle.VerifyCalls("tx-short"), "one run plus three retries")

	// Nothing left to run
	assert.Zero(t, h.drain(24*time.Hour))
	assert.Equal(t, 4, h.oracle.VerifyCalls("tx-short"))
	assert.Empty(t, h.ledger(group.ID))
	assert.True(t, h.membership(m.ID).TotalContributed.IsZero())
}

func TestVerifyOracleErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("flaky", "10.00", 3)
	h.join(group, "a")

	h.oracle.OnVerify("tx-flaky", ledgertest.Fail(context.DeadlineExceeded), ledgertest.Valid(3))
	c := h.contribute(group, "a", "tx-flaky", "10")

	h.drain(time.Second)
	assert.Equal(t, models.ContributionPending, h.contribution(c.ID).Status)
	h.drain(time.Minute)
	assert.Equal(t, models.ContributionConfirmed, h.contribution(c.ID).Status)
}

func TestConcurrentSchedulingCreatesOnePayout(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("race", "20.00", 3)
	h.join(group, "a")
	h.join(group, "b")
	for _, ref := range []string{"ra", "rb"} {
		h.oracle.OnVerify(ref, ledgertest.Valid(1))
	}
	ca := h.contribute(group, "a", "ra", "20")
	cb := h.contribute(group, "b", "rb", "20")

	// Confirm directly so no schedule job runs
	h.clock.Advance(time.Minute)
	require.NoError(t, h.engine.Verifier.Verify(h.ctx, ca.ID))
	require.NoError(t, h.engine.Verifier.Verify(h.ctx, cb.ID))

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.engine.Scheduler.ScheduleNextPayout(h.ctx, group.ID)
			assert.NoError(t, err)
			if p != nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	payouts := h.payouts(group.ID)
	require.Len(t, payouts, 1)
	assert.Equal(t, 1, payouts[0].RoundNumber)

	// The queued schedule job is now a no-op
	h.drain(time.Second)
	assert.Len(t, h.payouts(group.ID), 1)
}

// completeRound confirms one contribution per user and runs the scheduler.
func completeRound(t *testing.T, h *harness, group *models.Group, round string, users ...string) *models.Payout {
	t.Helper()
	for _, u := range users {
		ref := "tx-" + u + "-" + round
		h.oracle.OnVerify(ref, ledgertest.Valid(10))
		h.contribute(group, u, ref, group.ContributionAmount.String())
	}
	h.drain(time.Minute)

	payouts := h.payouts(group.ID)
	require.NotEmpty(t, payouts)
	return payouts[len(payouts)-1]
}

func TestPayoutConfirmation(t *testing.T) {
	t.Run("idempotent confirm", func(t *testing.T) {
		h := newHarness(t)
		group := h.createGroup("confirm", "10.00", 3)
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{Success: true, BlockNumber: 5}, nil)
		h.drain(24 * time.Hour)

		calls := h.oracle.ReceiptCalls("payout-tx-1")
		require.NoError(t, h.engine.Executor.ConfirmPayout(h.ctx, p.ID))
		require.NoError(t, h.engine.Executor.Execute(h.ctx, p.ID))
		assert.Equal(t, calls, h.oracle.ReceiptCalls("payout-tx-1"))
		assert.Equal(t, 1, h.oracle.SubmitCalls())
		assert.Len(t, h.ledger(group.ID), 3)
		assert.Len(t, h.notes.Messages(notify.PayoutCompleted), 1)
	})

	t.Run("pending receipt retries then completes", func(t *testing.T) {
		h := newHarness(t)
		group := h.createGroup("pending", "10.00", 3)
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		h.oracle.OnReceipt("payout-tx-1", nil, nil)
		h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{Success: true, BlockNumber: 8}, nil)

		h.drain(24 * time.Hour)
		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutProcessing, got.Status)

		h.drain(time.Minute)
		got, err = h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutCompleted, got.Status)
	})

	t.Run("failed receipt is terminal", func(t *testing.T) {
		h := newHarness(t)
		group := h.createGroup("reverted", "10.00", 3)
		a := h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{Success: false}, nil)
		h.drain(24 * time.Hour)

		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutFailed, got.Status)
		assert.Equal(t, "payout-tx-1", got.TxRef)
		assert.Equal(t, 1, h.oracle.ReceiptCalls("payout-tx-1"))
		assert.False(t, h.membership(a.ID).HasReceivedPayout)

		assert.Zero(t, h.drain(24*time.Hour))
	})

	t.Run("confirmation retries exhausted", func(t *testing.T) {
		h := newHarness(t)
		group := h.createGroup("lost", "10.00", 3)
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		h.drain(24 * time.Hour)
		for i := 0; i < 5; i++ {
			h.drain(time.Duration(60<<i) * time.Second)
		}

		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutFailed, got.Status)
		assert.Equal(t, "payout-tx-1", got.TxRef, "tx reference kept for audit")
		assert.Contains(t, got.FailureReason, "not mined")
		assert.Equal(t, 6, h.oracle.ReceiptCalls("payout-tx-1"))
	})

	t.Run("submission failures leave payout scheduled", func(t *testing.T) {
		h := newHarness(t)
		group := h.createGroup("broke", "10.00", 3)
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		h.oracle.SetBalance(dec("5"))
		h.drain(24 * time.Hour)

		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutScheduled, got.Status)
		assert.Empty(t, got.TxRef)
		assert.Zero(t, h.oracle.SubmitCalls())

		h.oracle.SetBalance(dec("1000"))
		h.drain(5 * time.Minute)
		got, err = h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutProcessing, got.Status)
	})
}

func TestExecuteSubmitsOnce(t *testing.T) {
	setup := func(t *testing.T) (*harness, *models.Payout) {
		h := newHarness(t)
		group := h.createGroup("once", "20.00", 3)
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")
		h.clock.Advance(24 * time.Hour)
		return h, p
	}

	t.Run("second run while submission is in flight", func(t *testing.T) {
		h, p := setup(t)

		entered := make(chan struct{})
		release := make(chan struct{})
		var calls atomic.Int32
		h.oracle.BeforeSubmit(func() {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
		})

		first := make(chan error, 1)
		go func() { first <- h.engine.Executor.Execute(h.ctx, p.ID) }()
		<-entered

		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutSubmitting, got.Status)

		err = h.engine.Executor.Execute(h.ctx, p.ID)
		assert.ErrorIs(t, err, ErrSubmissionInFlight)
		assert.True(t, retry.IsRetryable(err))

		close(release)
		require.NoError(t, <-first)

		// The queued job now only re-enqueues confirmation
		h.drain(0)
		assert.Equal(t, int32(1), calls.Load())
		require.Len(t, h.oracle.Submitted(), 1)

		got, err = h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutProcessing, got.Status)
		assert.Equal(t, "payout-tx-1", got.TxRef)
	})

	t.Run("parallel runs", func(t *testing.T) {
		h, p := setup(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := h.engine.Executor.Execute(h.ctx, p.ID)
				if err != nil {
					assert.ErrorIs(t, err, ErrSubmissionInFlight)
				}
			}()
		}
		wg.Wait()

		transfers := h.oracle.Submitted()
		require.Len(t, transfers, 1)
		assert.Equal(t, "wallet-a", transfers[0].To)
		assert.Equal(t, 1, h.oracle.SubmitCalls())
	})

	t.Run("abandoned claim fails instead of resubmitting", func(t *testing.T) {
		h, p := setup(t)
		require.NoError(t, h.store.ClaimPayout(h.ctx, p.ID))

		h.drain(0)
		for _, d := range []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute} {
			h.drain(d)
		}

		got, err := h.store.GetPayout(h.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutFailed, got.Status)
		assert.Contains(t, got.FailureReason, "in flight")
		assert.Empty(t, got.TxRef)
		assert.Zero(t, h.oracle.SubmitCalls())
	})
}

func TestPermanentPayoutFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("legacy", "10.00", 3)

	// A member stored without a wallet cannot be paid.
	legacy := &models.Membership{GroupID: group.ID, UserID: "legacy", Email: "legacy@example.com", JoinedAt: h.clock.Now()}
	require.NoError(t, h.store.CreateMembership(h.ctx, legacy))
	h.join(group, "b")

	p := completeRound(t, h, group, "1", "legacy", "b")
	assert.Equal(t, legacy.ID, p.RecipientID)

	h.drain(24 * time.Hour)

	got, err := h.store.GetPayout(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutFailed, got.Status)
	assert.Contains(t, got.FailureReason, "no wallet address")
	assert.Zero(t, h.oracle.SubmitCalls())

	jobs, err := h.store.ListJobs(h.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobDead, jobs[0].Status)

	// The failed payout no longer blocks the rotation.
	_, err = h.store.OpenPayout(h.ctx, group.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPayoutBalanceComesFromPayingTreasury(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("split", "10.00", 3)
	h.join(group, "a")
	h.join(group, "b")
	p := completeRound(t, h, group, "1", "a", "b")

	h.oracle.SetTreasury("payer-key")
	h.oracle.SetAddressBalance("payer-key", dec("5"))
	h.oracle.SetAddressBalance(group.WalletAddress, dec("1000"))
	h.drain(24 * time.Hour)

	got, err := h.store.GetPayout(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutScheduled, got.Status, "funded group wallet does not pay")
	assert.Zero(t, h.oracle.SubmitCalls())

	jobs, err := h.store.ListJobs(h.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].LastError, "payer-key")

	h.oracle.SetAddressBalance("payer-key", dec("1000"))
	h.oracle.SetAddressBalance(group.WalletAddress, dec("0"))
	h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{Success: true, BlockNumber: 4}, nil)
	h.drain(5 * time.Minute)

	got, err = h.store.GetPayout(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, got.Status)

	records := h.ledger(group.ID)
	last := records[len(records)-1]
	assert.Equal(t, models.LedgerPayout, last.Kind)
	assert.Equal(t, "payer-key", last.FromAddress)
}

func TestGroupCompletesAfterFullRotation(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("duo", "10.00", 2)
	a := h.join(group, "a")
	b := h.join(group, "b")

	p1 := completeRound(t, h, group, "1", "a", "b")
	assert.Equal(t, a.ID, p1.RecipientID)
	h.oracle.OnReceipt("payout-tx-1", &ledger.Receipt{Success: true}, nil)
	h.drain(24 * time.Hour)

	h.clock.Advance(time.Hour)
	p2 := completeRound(t, h, group, "2", "a", "b")
	assert.Equal(t, b.ID, p2.RecipientID)
	assert.Equal(t, 2, p2.RoundNumber)
	h.oracle.OnReceipt("payout-tx-2", &ledger.Receipt{Success: true}, nil)
	h.drain(24 * time.Hour)

	got, err := h.store.GetGroup(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupCompleted, got.Status)

	stats, err := h.engine.Stats(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CompletedRounds)
	assert.Equal(t, 4, stats.ConfirmedContributions)
	assert.True(t, stats.TotalContributions.Equal(dec("40")))
	assert.True(t, stats.TotalPaidOut.Equal(dec("40")))
	assert.Nil(t, stats.NextPayoutDate)
}

func TestEnqueue(t *testing.T) {
	h := newHarness(t)
	group := h.createGroup("manual", "10.00", 3)

	job, err := h.engine.Enqueue(h.ctx, models.JobSchedulePayout, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)

	_, err = h.engine.Enqueue(h.ctx, models.JobExecutePayout, "missing")
	assert.Error(t, err)

	t.Run("manual execution waits for the scheduled time", func(t *testing.T) {
		h.join(group, "a")
		h.join(group, "b")
		p := completeRound(t, h, group, "1", "a", "b")

		job, err := h.engine.Enqueue(h.ctx, models.JobExecutePayout, p.ID)
		require.NoError(t, err)
		assert.True(t, job.NotBefore.Equal(p.ScheduledFor), "not before %v", job.NotBefore)

		h.drain(time.Hour)
		assert.Zero(t, h.oracle.SubmitCalls())

		h.drain(23 * time.Hour)
		assert.Equal(t, 1, h.oracle.SubmitCalls())
	})

	_, err = h.engine.Enqueue(h.ctx, "bogus", group.ID)
	assert.True(t, IsValidation(err))
}
