package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
)

// Queue is an in-process queue.Queue with the same lease semantics as the
// postgres and redis backends. Now is swappable so tests can expire leases.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]job.Job

	Now func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		jobs: make(map[string]job.Job),
		Now:  time.Now,
	}
}

func (q *Queue) now() time.Time { return q.Now().UTC() }

func (q *Queue) Enqueue(_ context.Context, j job.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[j.ID]; ok {
		return false, nil
	}

	now := q.now()
	if j.Status == "" {
		j.Status = job.StatusPending
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	j.UpdatedAt = now
	q.jobs[j.ID] = j
	return true, nil
}

func (q *Queue) Claim(_ context.Context, workerID string, lease time.Duration) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var next *job.Job
	for id := range q.jobs {
		j := q.jobs[id]
		if !queue.Claimable(j, now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) || (j.RunAt.Equal(next.RunAt) && j.ID < next.ID) {
			jj := j
			next = &jj
		}
	}
	if next == nil {
		return job.Job{}, queue.ErrEmpty
	}

	until := now.Add(lease)
	owner := workerID
	next.Status = job.StatusProcessing
	next.Attempts++
	next.LockedBy = &owner
	next.LeaseUntil = &until
	next.UpdatedAt = now
	q.jobs[next.ID] = *next

	return *next, nil
}

func (q *Queue) Ack(_ context.Context, id, owner string) error {
	return q.update(id, owner, func(j *job.Job) {
		j.Status = job.StatusDone
		j.LockedBy = nil
		j.LeaseUntil = nil
		j.LastError = nil
	})
}

func (q *Queue) Retry(_ context.Context, id, owner string, runAt time.Time, reason string) error {
	return q.update(id, owner, func(j *job.Job) {
		j.Status = job.StatusPending
		j.RunAt = runAt.UTC()
		j.LockedBy = nil
		j.LeaseUntil = nil
		j.LastError = &reason
	})
}

func (q *Queue) DeadLetter(_ context.Context, id, owner, reason string) error {
	return q.update(id, owner, func(j *job.Job) {
		j.Status = job.StatusDead
		j.LockedBy = nil
		j.LeaseUntil = nil
		j.LastError = &reason
	})
}

func (q *Queue) update(id, owner string, fn func(j *job.Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if !queue.Leased(j, owner) {
		return queue.ErrLeaseLost
	}
	fn(&j)
	j.UpdatedAt = q.now()
	q.jobs[id] = j
	return nil
}

func (q *Queue) GetByID(_ context.Context, id string) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

// All returns every job ordered by enqueue time; handy in tests.
func (q *Queue) All() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]job.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].EnqueuedAt.Equal(out[k].EnqueuedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].EnqueuedAt.Before(out[k].EnqueuedAt)
	})
	return out
}

func (q *Queue) deadSorted() []job.Job {
	out := make([]job.Job, 0)
	for _, j := range q.jobs {
		if j.Status == job.StatusDead {
			out = append(out, j)
		}
	}
	// newest first, same keyset order as the postgres listing
	sort.Slice(out, func(i, k int) bool {
		if out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].UpdatedAt.After(out[k].UpdatedAt)
	})
	return out
}

func (q *Queue) ListDead(_ context.Context, limit int, beforeUpdatedAt time.Time, beforeID string) ([]job.Job, *string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]job.Job, 0, limit)
	hasMore := false
	for _, j := range q.deadSorted() {
		if !beforeUpdatedAt.IsZero() {
			if j.UpdatedAt.After(beforeUpdatedAt) || (j.UpdatedAt.Equal(beforeUpdatedAt) && j.ID >= beforeID) {
				continue
			}
		}
		if len(items) == limit {
			hasMore = true
			break
		}
		items = append(items, j)
	}

	var next *string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		c, err := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if err != nil {
			return nil, nil, false, err
		}
		next = &c
	}
	return items, next, hasMore, nil
}

func (q *Queue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusDead {
		return queue.ErrJobNotDead
	}
	q.jobs[id] = revive(j, q.now())
	return nil
}

func (q *Queue) RequeueDead(_ context.Context, limit int) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var n int64
	for _, j := range q.deadSorted() {
		if int(n) == limit {
			break
		}
		q.jobs[j.ID] = revive(j, now)
		n++
	}
	return n, nil
}

func revive(j job.Job, now time.Time) job.Job {
	j.Status = job.StatusPending
	j.Attempts = 0
	j.RunAt = now
	j.LockedBy = nil
	j.LeaseUntil = nil
	j.LastError = nil
	j.UpdatedAt = now
	return j
}

func (q *Queue) Ping(context.Context) error { return nil }
