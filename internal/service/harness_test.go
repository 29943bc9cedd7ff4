package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/chamaledger/internal/ledger/ledgertest"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/storage/sqlite"
	"github.com/mmynk/chamaledger/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires an engine over a temp-file store, a fake oracle and a fake clock.
type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.SQLiteStore
	oracle *ledgertest.Oracle
	notes  *notify.Recorder
	clock  *fakeClock
	engine *Engine
	pool   *worker.Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "chama.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		oracle: ledgertest.New(),
		notes:  &notify.Recorder{},
		clock:  &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)},
	}
	h.engine = NewEngine(store, Options{
		Oracle:        h.oracle,
		Notifier:      h.notes,
		Clock:         h.clock.Now,
		PayoutDelay:   24 * time.Hour,
		OracleTimeout: 5 * time.Second,
		StaleAfter:    24 * time.Hour,
	})
	h.pool = worker.New(store, worker.Options{Clock: h.clock.Now, Lease: time.Hour})
	h.engine.RegisterTasks(h.pool)
	return h
}

func (h *harness) createGroup(name, amount string, maxMembers int) *models.Group {
	h.t.Helper()
	group, err := h.engine.Groups.CreateGroup(h.ctx, CreateGroupParams{
		Name:               name,
		ContributionAmount: decimal.RequireFromString(amount),
		Frequency:          models.FrequencyMonthly,
		MinMembers:         2,
		MaxMembers:         maxMembers,
		WalletAddress:      "treasury-" + name,
		CreatedBy:          "founder",
	})
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	return group
}

func (h *harness) join(group *models.Group, userID string) *models.Membership {
	h.t.Helper()
	m, err := h.engine.Groups.JoinGroup(h.ctx, JoinGroupParams{
		GroupID:       group.ID,
		UserID:        userID,
		Email:         userID + "@example.com",
		WalletAddress: "wallet-" + userID,
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) contribute(group *models.Group, userID, txRef, amount string) *models.Contribution {
	h.t.Helper()
	c, err := h.engine.Groups.SubmitContribution(h.ctx, SubmitContributionParams{
		GroupID: group.ID,
		UserID:  userID,
		Amount:  decimal.RequireFromString(amount),
		TxRef:   txRef,
	})
	require.NoError(h.t, err)
	return c
}

// drain advances the clock by d and runs every due job.
func (h *harness) drain(d time.Duration) int {
	h.t.Helper()
	h.clock.Advance(d)
	n, err := h.pool.RunDue(h.ctx)
	require.NoError(h.t, err)
	return n
}

func (h *harness) contribution(id string) *models.Contribution {
	h.t.Helper()
	c, err := h.store.GetContribution(h.ctx, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) membership(id string) *models.Membership {
	h.t.Helper()
	m, err := h.store.GetMembership(h.ctx, id)
	require.NoError(h.t, err)
	return m
}

func (h *harness) payouts(groupID string) []*models.Payout {
	h.t.Helper()
	payouts, err := h.store.ListPayouts(h.ctx, groupID)
	require.NoError(h.t, err)
	return payouts
}

func (h *harness) ledger(groupID string) []*models.LedgerRecord {
	h.t.Helper()
	records, err := h.store.ListLedgerRecords(h.ctx, groupID)
	require.NoError(h.t, err)
	return records
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
