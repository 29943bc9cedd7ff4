package models

import "time"

// JobKind names a unit of asynchronous work.
type JobKind string

const (
	JobVerifyContribution JobKind = "verify_contribution"
	JobSchedulePayout     JobKind = "schedule_payout"
	JobExecutePayout      JobKind = "execute_payout"
	JobConfirmPayout      JobKind = "confirm_payout"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is an explicit task description consumed by the worker pool.
type Job struct {
	ID   string
	Kind JobKind

	// Payload is the ID of the record the job operates on
	// (contribution, group or payout depending on Kind).
	Payload string

	// NotBefore is the earliest time the job may run.
	NotBefore time.Time

	// Attempt counts retries already consumed; the first run has Attempt 0.
	Attempt int

	Status    JobStatus
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob returns a queued job for kind and payload that may run at notBefore.
func NewJob(kind JobKind, payload string, notBefore time.Time) *Job {
	return &Job{
		Kind:      kind,
		Payload:   payload,
		NotBefore: notBefore,
		Status:    JobQueued,
	}
}
