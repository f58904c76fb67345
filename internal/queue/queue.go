// Package queue defines the durable, at-least-once channel between the
// coordinator/scheduler and the notification workers.
//
// Enqueue is idempotent on job.ID: a job whose id is already known (pending,
// leased, done or dead) is not enqueued again. A claimed job is leased to one
// worker until the lease expires; a worker that dies before Ack simply lets the
// lease lapse and the job becomes claimable again.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
)

var (
	// ErrEmpty means nothing is ready to be claimed right now.
	ErrEmpty = errors.New("queue empty")
	// ErrJobNotDead is returned when requeueing a job that is not dead-lettered.
	ErrJobNotDead = errors.New("job is not dead-lettered")
	// ErrLeaseLost means the caller no longer holds the job's lease; another
	// worker reclaimed it or its outcome was already recorded.
	ErrLeaseLost = errors.New("job lease lost")
)

type Producer interface {
	// Enqueue reports created=false when the job id already exists.
	Enqueue(ctx context.Context, j job.Job) (created bool, err error)
}

type Consumer interface {
	// Claim leases the next ready job (or one whose lease expired) and bumps
	// its attempt count. Returns ErrEmpty when there is nothing to do.
	Claim(ctx context.Context, workerID string, lease time.Duration) (job.Job, error)
	// Ack, Retry and DeadLetter only apply while owner still holds the lease
	// from Claim; otherwise they return ErrLeaseLost and change nothing.
	Ack(ctx context.Context, id, owner string) error
	Retry(ctx context.Context, id, owner string, runAt time.Time, reason string) error
	DeadLetter(ctx context.Context, id, owner, reason string) error
}

// DeadLetters is the operator view of jobs that exhausted their attempts.
type DeadLetters interface {
	ListDead(ctx context.Context, limit int, beforeUpdatedAt time.Time, beforeID string) (items []job.Job, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	// Requeue moves one dead job back to pending with a fresh attempt budget.
	Requeue(ctx context.Context, id string) error
	RequeueDead(ctx context.Context, limit int) (int64, error)
}

type Queue interface {
	Producer
	Consumer
	DeadLetters
	Ping(ctx context.Context) error
}

// Leased reports whether owner holds the job's current lease.
func Leased(j job.Job, owner string) bool {
	return j.Status == job.StatusProcessing && j.LockedBy != nil && *j.LockedBy == owner
}

// Claimable is the readiness rule every backend implements.
func Claimable(j job.Job, now time.Time) bool {
	switch j.Status {
	case job.StatusPending:
		return !j.RunAt.After(now)
	case job.StatusProcessing:
		return j.LeaseUntil != nil && j.LeaseUntil.Before(now)
	default:
		return false
	}
}
