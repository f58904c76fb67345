// Package redisqueue is a queue.Queue on redis. Each job is one JSON record
// (jobs.Encode) plus membership in exactly one of three sorted sets: ready
// (scored by run_at), leased (by lease expiry) and dead (by updated_at).
// Done records leave every set and expire after DoneTTL.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/jobs"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Prefix  string
	DoneTTL time.Duration
}

type Queue struct {
	rdb     *redis.Client
	prefix  string
	doneTTL time.Duration

	Now func() time.Time
}

func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = "rsvphub:jobs"
	}
	if cfg.DoneTTL <= 0 {
		cfg.DoneTTL = 7 * 24 * time.Hour
	}
	return &Queue{rdb: rdb, prefix: cfg.Prefix, doneTTL: cfg.DoneTTL, Now: time.Now}
}

func (q *Queue) jobKeyPrefix() string    { return q.prefix + ":job:" }
func (q *Queue) jobKey(id string) string { return q.jobKeyPrefix() + id }
func (q *Queue) readyKey() string        { return q.prefix + ":ready" }
func (q *Queue) leasedKey() string       { return q.prefix + ":leased" }
func (q *Queue) deadKey() string         { return q.prefix + ":dead" }

// now is truncated to ms so record times and set scores agree.
func (q *Queue) now() time.Time { return q.Now().UTC().Truncate(time.Millisecond) }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (q *Queue) Enqueue(ctx context.Context, j job.Job) (bool, error) {
	now := q.now()
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = j.EnqueuedAt
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}
	j.Status = job.StatusPending
	j.Attempts = 0
	j.UpdatedAt = now

	rec, err := jobs.Encode(j)
	if err != nil {
		return false, err
	}

	n, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(j.ID), q.readyKey()},
		rec, score(j.RunAt), j.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", j.ID, err)
	}
	return n == 1, nil
}

func (q *Queue) Claim(ctx context.Context, workerID string, lease time.Duration) (job.Job, error) {
	now := q.now()
	until := now.Add(lease)

	raw, err := claimScript.Run(ctx, q.rdb,
		[]string{q.readyKey(), q.leasedKey()},
		now.UnixMilli(), until.UnixMilli(), workerID,
		until.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), q.jobKeyPrefix(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job.Job{}, queue.ErrEmpty
		}
		return job.Job{}, fmt.Errorf("claim: %w", err)
	}
	return jobs.Decode([]byte(raw))
}

// update rewrites one record under WATCH so a concurrent claim or requeue
// aborts the write instead of being overwritten.
func (q *Queue) update(ctx context.Context, id string, fn func(j *job.Job, pipe redis.Pipeliner) error) error {
	key := q.jobKey(id)

	return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return job.ErrJobNotFound
			}
			return err
		}
		j, err := jobs.Decode(raw)
		if err != nil {
			return err
		}
		j.UpdatedAt = q.now()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := fn(&j, pipe); err != nil {
				return err
			}
			rec, err := jobs.Encode(j)
			if err != nil {
				return err
			}
			ttl := time.Duration(0)
			if j.Status == job.StatusDone {
				ttl = q.doneTTL
			}
			pipe.Set(ctx, key, rec, ttl)
			return nil
		})
		return err
	}, key)
}

func (q *Queue) Ack(ctx context.Context, id, owner string) error {
	return q.update(ctx, id, func(j *job.Job, pipe redis.Pipeliner) error {
		if !queue.Leased(*j, owner) {
			return queue.ErrLeaseLost
		}
		j.Status = job.StatusDone
		j.LockedBy, j.LeaseUntil, j.LastError = nil, nil, nil
		pipe.ZRem(ctx, q.leasedKey(), id)
		return nil
	})
}

func (q *Queue) Retry(ctx context.Context, id, owner string, runAt time.Time, reason string) error {
	return q.update(ctx, id, func(j *job.Job, pipe redis.Pipeliner) error {
		if !queue.Leased(*j, owner) {
			return queue.ErrLeaseLost
		}
		j.Status = job.StatusPending
		j.RunAt = runAt.UTC()
		j.LockedBy, j.LeaseUntil = nil, nil
		j.LastError = &reason
		pipe.ZRem(ctx, q.leasedKey(), id)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(runAt), Member: id})
		return nil
	})
}

func (q *Queue) DeadLetter(ctx context.Context, id, owner, reason string) error {
	return q.update(ctx, id, func(j *job.Job, pipe redis.Pipeliner) error {
		if !queue.Leased(*j, owner) {
			return queue.ErrLeaseLost
		}
		j.Status = job.StatusDead
		j.LockedBy, j.LeaseUntil = nil, nil
		j.LastError = &reason
		pipe.ZRem(ctx, q.leasedKey(), id)
		pipe.ZRem(ctx, q.readyKey(), id)
		pipe.ZAdd(ctx, q.deadKey(), redis.Z{Score: score(j.UpdatedAt), Member: id})
		return nil
	})
}

func (q *Queue) GetByID(ctx context.Context, id string) (job.Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return jobs.Decode(raw)
}

// ListDead pages the dead set newest first. Equal scores come back in
// descending member order, which matches the (updated_at, id) keyset.
func (q *Queue) ListDead(ctx context.Context, limit int, beforeUpdatedAt time.Time, beforeID string) ([]job.Job, *string, bool, error) {
	maxScore := "+inf"
	var cursorScore float64
	if !beforeUpdatedAt.IsZero() {
		cursorScore = score(beforeUpdatedAt)
		maxScore = strconv.FormatFloat(cursorScore, 'f', 0, 64)
	}

	ids := make([]string, 0, limit+1)
	opt := &redis.ZRangeBy{Min: "-inf", Max: maxScore, Count: int64(limit + 1)}
	for len(ids) <= limit {
		page, err := q.rdb.ZRevRangeByScoreWithScores(ctx, q.deadKey(), opt).Result()
		if err != nil {
			return nil, nil, false, err
		}
		for _, z := range page {
			id, _ := z.Member.(string)
			if !beforeUpdatedAt.IsZero() && z.Score == cursorScore && id >= beforeID {
				continue
			}
			ids = append(ids, id)
			if len(ids) > limit {
				break
			}
		}
		if int64(len(page)) < opt.Count {
			break
		}
		opt.Offset += opt.Count
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	items := make([]job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, job.ErrJobNotFound) {
				continue
			}
			return nil, nil, false, err
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

func (q *Queue) Requeue(ctx context.Context, id string) error {
	return q.update(ctx, id, func(j *job.Job, pipe redis.Pipeliner) error {
		if j.Status != job.StatusDead {
			return queue.ErrJobNotDead
		}
		j.Status = job.StatusPending
		j.Attempts = 0
		j.RunAt = j.UpdatedAt
		j.LockedBy, j.LeaseUntil, j.LastError = nil, nil, nil
		pipe.ZRem(ctx, q.deadKey(), id)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(j.RunAt), Member: id})
		return nil
	})
}

func (q *Queue) RequeueDead(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.ZRevRange(ctx, q.deadKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		err := q.Requeue(ctx, id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, job.ErrJobNotFound), errors.Is(err, queue.ErrJobNotDead), errors.Is(err, redis.TxFailedErr):
			// raced with another operator or expired
		default:
			return n, err
		}
	}
	return n, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
