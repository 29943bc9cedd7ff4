// Package worker runs queued jobs with a fixed number of goroutines and applies
// the retry policy of each job kind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/retry"
	"github.com/mmynk/chamaledger/internal/storage"
)

// Task is the handler of one job kind.
type Task struct {
	// Run executes the job. Errors marked with retry.Retryable are retried per Policy,
	// storage.ErrNotFound abandons the job and anything else buries it at once.
	Run func(ctx context.Context, payload string) error

	// OnExhausted is called once when Run fails for good: after the last retry,
	// or on the first error that is not retryable. It owns the terminal state
	// transition of the subject.
	OnExhausted func(ctx context.Context, payload string, lastErr error) error

	Policy retry.Policy
}

// Options configures a Pool.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	// Lease is how long a running job may go without finishing before it is claimed again.
	Lease time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Registerer receives the pool metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
}

// Pool claims due jobs from a queue and dispatches them to registered tasks.
type Pool struct {
	queue   storage.Queue
	tasks   map[models.JobKind]Task
	opts    Options
	metrics *Metrics
}

// New creates a Pool reading from queue.
func New(queue storage.Queue, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	return &Pool{
		queue:   queue,
		tasks:   make(map[models.JobKind]Task),
		opts:    opts,
		metrics: NewMetrics(opts.Registerer),
	}
}

// Register installs the handler for kind, replacing any previous one.
func (p *Pool) Register(kind models.JobKind, task Task) {
	p.tasks[kind] = task
}

// Metrics returns the pool collectors.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Run processes jobs until ctx is cancelled. Jobs already running when ctx is
// cancelled are allowed to finish.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Worker pool started", "concurrency", p.opts.Concurrency, "poll_interval", p.opts.PollInterval)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()

	slog.Info("Worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			job, err := p.queue.ClaimJob(ctx, p.opts.Clock(), p.opts.Lease)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Claim job failed", "worker", worker, "error", err)
				}
				break
			}
			if job == nil {
				break
			}
			p.process(context.WithoutCancel(ctx), job)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunDue processes every job that is due now, one at a time, and returns how many ran.
// Jobs rescheduled into the future are left for a later call.
func (p *Pool) RunDue(ctx context.Context) (int, error) {
	n := 0
	for {
		job, err := p.queue.ClaimJob(ctx, p.opts.Clock(), p.opts.Lease)
		if err != nil {
			return n, fmt.Errorf("failed to claim job: %w", err)
		}
		if job == nil {
			return n, nil
		}
		p.process(ctx, job)
		n++
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	p.metrics.Claimed.Inc()
	kind := string(job.Kind)
	log := slog.With("job_id", job.ID, "kind", kind, "payload", job.Payload, "attempt", job.Attempt)

	task, ok := p.tasks[job.Kind]
	if !ok {
		log.Error("No task registered for job kind")
		p.bury(ctx, job, "no task registered for kind "+kind)
		p.metrics.Processed.WithLabelValues(kind, OutcomeDead).Inc()
		return
	}

	start := time.Now()
	err := task.Run(ctx, job.Payload)
	p.metrics.Duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	outcome := p.settle(ctx, log, job, task, err)
	p.metrics.Processed.WithLabelValues(kind, outcome).Inc()
}

// settle records the result of one run in the queue and returns the metric outcome.
func (p *Pool) settle(ctx context.Context, log *slog.Logger, job *models.Job, task Task, err error) string {
	now := p.opts.Clock()

	switch {
	case err == nil:
		log.Debug("Job done")
		p.complete(ctx, job)
		return OutcomeDone

	case errors.Is(err, storage.ErrNotFound):
		log.Warn("Job subject not found, abandoning", "error", err)
		p.complete(ctx, job)
		return OutcomeAbandoned

	case retry.IsRetryable(err):
		if !task.Policy.Exhausted(job.Attempt) {
			notBefore := now.Add(task.Policy.Backoff(job.Attempt))
			log.Info("Job failed, retrying", "error", err, "not_before", notBefore)
			if qerr := p.queue.RetryJob(ctx, job.ID, notBefore, job.Attempt+1, err.Error(), now); qerr != nil {
				log.Error("Reschedule job failed", "error", qerr)
			}
			return OutcomeRetry
		}

		log.Warn("Job retries exhausted", "error", err)
		if !p.exhaust(ctx, log, job, task, err) {
			return OutcomeDead
		}
		p.bury(ctx, job, err.Error())
		return OutcomeExhausted

	default:
		log.Error("Job failed permanently", "error", err)
		if p.exhaust(ctx, log, job, task, err) {
			p.bury(ctx, job, err.Error())
		}
		return OutcomeDead
	}
}

// exhaust runs the task's OnExhausted handler. A failing handler buries the job
// with the handler's error and reports false.
func (p *Pool) exhaust(ctx context.Context, log *slog.Logger, job *models.Job, task Task, err error) bool {
	if task.OnExhausted == nil {
		return true
	}
	if herr := task.OnExhausted(ctx, job.Payload, err); herr != nil {
		log.Error("Exhaustion handler failed", "error", herr)
		p.bury(ctx, job, herr.Error())
		return false
	}
	return true
}

func (p *Pool) complete(ctx context.Context, job *models.Job) {
	if err := p.queue.CompleteJob(ctx, job.ID, p.opts.Clock()); err != nil {
		slog.Error("Complete job failed", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) bury(ctx context.Context, job *models.Job, reason string) {
	if err := p.queue.BuryJob(ctx, job.ID, reason, p.opts.Clock()); err != nil {
		slog.Error("Bury job failed", "job_id", job.ID, "error", err)
	}
}
