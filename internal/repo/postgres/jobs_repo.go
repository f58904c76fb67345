package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, kind, user_id, event_id, registration_id, status,
	attempts, max_attempts, run_at, locked_by, lease_until,
	last_error, enqueued_at, updated_at`

// JobsRepo is the postgres queue.Queue. Claims use FOR UPDATE SKIP LOCKED so
// concurrent workers never lease the same row.
type JobsRepo struct {
	pool *pgxpool.Pool
	observer
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, observer: observer{prom: prom}}
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var kind, status string
	err := row.Scan(
		&j.ID, &kind, &j.UserID, &j.EventID, &j.RegistrationID, &status,
		&j.Attempts, &j.MaxAttempts, &j.RunAt, &j.LockedBy, &j.LeaseUntil,
		&j.LastError, &j.EnqueuedAt, &j.UpdatedAt,
	)
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	return j, err
}

func (r *JobsRepo) Enqueue(ctx context.Context, j job.Job) (bool, error) {
	now := time.Now().UTC()
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = j.EnqueuedAt
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}

	var tag pgconn.CommandTag
	err := r.observe("jobs.enqueue", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, user_id, event_id, registration_id, status,
		                  attempts, max_attempts, run_at, enqueued_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7,$8,$8)
		ON CONFLICT (id) DO NOTHING
		`, j.ID, string(j.Kind), j.UserID, j.EventID, j.RegistrationID,
			j.MaxAttempts, j.RunAt, j.EnqueuedAt)
		return err
	})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Claim leases the next ready job, or one whose lease expired, in a single
// statement and bumps its attempt count.
func (r *JobsRepo) Claim(ctx context.Context, workerID string, lease time.Duration) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.claim", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE (status = 'pending' AND run_at <= NOW())
			   OR (status = 'processing' AND lease_until < NOW())
			ORDER BY run_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    locked_by = $1,
		    lease_until = NOW() + ($2::float8 * INTERVAL '1 millisecond'),
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING `+jobColumns, workerID, float64(lease.Milliseconds())))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, queue.ErrEmpty
		}
		return job.Job{}, err
	}
	return j, nil
}

func (r *JobsRepo) exec(ctx context.Context, op, sql string, args ...any) error {
	var tag pgconn.CommandTag
	err := r.observe(op, func() error {
		var err error
		tag, err = r.pool.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// leased runs an outcome update fenced on the caller's lease.
func (r *JobsRepo) leased(ctx context.Context, op, id, sql string, args ...any) error {
	err := r.exec(ctx, op, sql, args...)
	if !errors.Is(err, job.ErrJobNotFound) {
		return err
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return queue.ErrLeaseLost
}

func (r *JobsRepo) Ack(ctx context.Context, id, owner string) error {
	return r.leased(ctx, "jobs.ack", id, `
		UPDATE jobs
		SET status = 'done',
		    locked_by = NULL,
		    lease_until = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`, id, owner)
}

func (r *JobsRepo) Retry(ctx context.Context, id, owner string, runAt time.Time, reason string) error {
	return r.leased(ctx, "jobs.retry", id, `
		UPDATE jobs
		SET status = 'pending',
		    run_at = $3,
		    locked_by = NULL,
		    lease_until = NULL,
		    last_error = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`, id, owner, runAt, reason)
}

func (r *JobsRepo) DeadLetter(ctx context.Context, id, owner, reason string) error {
	return r.leased(ctx, "jobs.dead_letter", id, `
		UPDATE jobs
		SET status = 'dead',
		    locked_by = NULL,
		    lease_until = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`, id, owner, reason)
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.get_by_id", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

// ListDead pages dead jobs newest first; a zero beforeUpdatedAt starts at the top.
func (r *JobsRepo) ListDead(
	ctx context.Context,
	limit int,
	beforeUpdatedAt time.Time,
	beforeID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	conds := []string{"status = 'dead'"}
	args := []any{}
	argsPos := 1

	if !beforeUpdatedAt.IsZero() {
		conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d::uuid)", argsPos, argsPos+1))
		args = append(args, beforeUpdatedAt, beforeID)
		argsPos += 2
	}

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limit+1)

	var rows pgx.Rows
	err = r.observe("jobs.admin.list_dead", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

const reviveSet = `
		SET status = 'pending',
		    attempts = 0,
		    run_at = NOW(),
		    locked_by = NULL,
		    lease_until = NULL,
		    last_error = NULL,
		    updated_at = NOW()`

func (r *JobsRepo) Requeue(ctx context.Context, id string) error {
	err := r.exec(ctx, "jobs.admin.requeue", `UPDATE jobs`+reviveSet+` WHERE id = $1 AND status = 'dead'`, id)
	if !errors.Is(err, job.ErrJobNotFound) {
		return err
	}

	// nothing updated: tell a missing job apart from a live one
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return queue.ErrJobNotDead
}

func (r *JobsRepo) RequeueDead(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var tag pgconn.CommandTag
	err := r.observe("jobs.admin.requeue_dead", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `
		WITH picked AS (
			SELECT id
			FROM jobs
			WHERE status = 'dead'
			ORDER BY updated_at DESC, id DESC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs`+reviveSet+`
		WHERE id IN (SELECT id FROM picked)
		`, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobsRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
