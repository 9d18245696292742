// Package queue is a thin poll-loop wrapper over storage's job
// methods (spec.md C6). It owns nothing durable itself — Storage is
// the queue's actual backing store — but centralises the claim/run/fail
// loop both workers share. Handlers complete their own jobs.
package queue

import (
	"context"
	"errors"
	"time"

	"supportbot/internal/logging"
	"supportbot/internal/model"
	"supportbot/internal/storage"
)

// Handler processes one claimed job. Returning an error fails the job
// with that error's message as the failure reason.
type Handler func(ctx context.Context, job model.Job) error

// Loop polls store for jobs of the given kinds and dispatches them to
// handle, one at a time (single-flight per Loop instance), until ctx
// is cancelled.
type Loop struct {
	store             storage.Storage
	kinds             []model.JobKind
	pollInterval      time.Duration
	stalenessDeadline time.Duration
	jobDeadline       time.Duration
	handle            Handler
}

func New(store storage.Storage, kinds []model.JobKind, pollInterval, stalenessDeadline, jobDeadline time.Duration, handle Handler) *Loop {
	return &Loop{
		store:             store,
		kinds:             kinds,
		pollInterval:      pollInterval,
		stalenessDeadline: stalenessDeadline,
		jobDeadline:       jobDeadline,
		handle:            handle,
	}
}

// Run blocks until ctx is cancelled, claiming and dispatching jobs.
// Shutdown is cooperative: the current job runs to completion (or
// fails with reason "shutdown" if ctx is already cancelled when a job
// would otherwise be claimed).
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	job, err := l.store.ClaimNextJob(ctx, l.kinds, l.stalenessDeadline)
	if errors.Is(err, storage.ErrNoJob) {
		return
	}
	if err != nil {
		logging.Log.WithError(err).Error("claim next job failed")
		return
	}

	// The claimed job runs detached from ctx, so a shutdown lets it
	// finish; it is still bounded by jobDeadline.
	runCtx := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(runCtx, l.jobDeadline)
	defer cancel()

	if ctx.Err() != nil {
		_ = l.store.FailJob(runCtx, job.JobID, "shutdown")
		return
	}

	if err := l.handle(jobCtx, job); err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			_ = l.store.FailJob(runCtx, job.JobID, "deadline_exceeded")
			return
		}
		logging.Log.WithError(err).WithField("job_id", job.JobID).WithField("kind", job.Kind).Warn("job failed")
		_ = l.store.FailJob(runCtx, job.JobID, err.Error())
		return
	}
}
