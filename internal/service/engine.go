// Package service implements the chama ledger engine: contribution intake and
// verification, round tracking, rotation scheduling and payout execution.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/chamaledger/internal/ledger"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/retry"
	"github.com/mmynk/chamaledger/internal/storage"
	"github.com/mmynk/chamaledger/internal/worker"
)

// Policies are the retry policies of each task class.
type Policies struct {
	Verification retry.Policy
	Submission   retry.Policy
	Confirmation retry.Policy
	Schedule     retry.Policy
}

// DefaultPolicies returns the standard retry policies.
func DefaultPolicies() Policies {
	return Policies{
		Verification: retry.VerificationPolicy,
		Submission:   retry.SubmissionPolicy,
		Confirmation: retry.ConfirmationPolicy,
		Schedule:     retry.SchedulePolicy,
	}
}

// Options configures an Engine.
type Options struct {
	Oracle   ledger.Oracle
	Notifier notify.Notifier
	// Clock returns the current time. Defaults to time.Now in UTC.
	Clock func() time.Time

	PayoutDelay   time.Duration
	OracleTimeout time.Duration
	StaleAfter    time.Duration
	Policies      Policies
}

// Engine bundles the engine components over one store.
type Engine struct {
	Groups    *GroupService
	Tracker   *RoundTracker
	Scheduler *Scheduler
	Verifier  *Verifier
	Executor  *Executor
	Sweeper   *Sweeper

	store    storage.Store
	policies Policies
	now      func() time.Time
}

// NewEngine wires the components together.
func NewEngine(store storage.Store, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.PayoutDelay < 0 {
		opts.PayoutDelay = 0
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if opts.Policies == (Policies{}) {
		opts.Policies = DefaultPolicies()
	}

	return &Engine{
		Groups:    NewGroupService(store, opts.Clock),
		Tracker:   NewRoundTracker(store),
		Scheduler: NewScheduler(store, opts.Notifier, opts.Clock, opts.PayoutDelay),
		Verifier:  NewVerifier(store, opts.Oracle, opts.Clock, opts.OracleTimeout),
		Executor:  NewExecutor(store, opts.Oracle, opts.Notifier, opts.Clock, opts.OracleTimeout),
		Sweeper:   NewSweeper(store, opts.Notifier, opts.Clock, opts.StaleAfter),
		store:     store,
		policies:  opts.Policies,
		now:       opts.Clock,
	}
}

// RegisterTasks installs the engine's job handlers on pool.
func (e *Engine) RegisterTasks(pool *worker.Pool) {
	pool.Register(models.JobVerifyContribution, worker.Task{
		Run:         e.Verifier.Verify,
		OnExhausted: e.Verifier.OnExhausted,
		Policy:      e.policies.Verification,
	})
	pool.Register(models.JobSchedulePayout, worker.Task{
		Run: func(ctx context.Context, groupID string) error {
			_, err := e.Scheduler.ScheduleNextPayout(ctx, groupID)
			return err
		},
		Policy: e.policies.Schedule,
	})
	pool.Register(models.JobExecutePayout, worker.Task{
		Run:         e.Executor.Execute,
		OnExhausted: e.Executor.OnExhausted,
		Policy:      e.policies.Submission,
	})
	pool.Register(models.JobConfirmPayout, worker.Task{
		Run:         e.Executor.ConfirmPayout,
		OnExhausted: e.Executor.OnExhausted,
		Policy:      e.policies.Confirmation,
	})
}

// Enqueue queues a job for kind after checking that its subject exists.
// It is the manual trigger behind the task RPCs. An execute_payout job never
// runs before the payout's scheduled time.
func (e *Engine) Enqueue(ctx context.Context, kind models.JobKind, payload string) (*models.Job, error) {
	var err error
	notBefore := e.now()
	switch kind {
	case models.JobVerifyContribution:
		_, err = e.store.GetContribution(ctx, payload)
	case models.JobSchedulePayout:
		_, err = e.store.GetGroup(ctx, payload)
	case models.JobExecutePayout:
		var p *models.Payout
		p, err = e.store.GetPayout(ctx, payload)
		if err == nil && p.ScheduledFor.After(notBefore) {
			notBefore = p.ScheduledFor
		}
	case models.JobConfirmPayout:
		_, err = e.store.GetPayout(ctx, payload)
	default:
		return nil, invalid("kind", "unknown job kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	job := models.NewJob(kind, payload, notBefore)
	if err := e.store.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	return job, nil
}

// Stats returns statistics for a group.
func (e *Engine) Stats(ctx context.Context, groupID string) (*GroupStats, error) {
	return Stats(ctx, e.store, groupID)
}
