package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/delivery"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveriesRepo is the notification_deliveries ledger, one row per job id.
type DeliveriesRepo struct {
	pool *pgxpool.Pool
	observer
}

func NewDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *DeliveriesRepo {
	return &DeliveriesRepo{pool: pool, observer: observer{prom: prom}}
}

// TryStart inserts a "sending" row, or flips a failed or stale "sending" row
// back to sending. Only one worker can win the flip.
func (r *DeliveriesRepo) TryStart(ctx context.Context, jobID, kind, recipient string, staleAfter time.Duration) error {
	var claimed string
	err := r.observe("deliveries.try_start", func() error {
		return r.pool.QueryRow(ctx, `
		INSERT INTO notification_deliveries (job_id, kind, recipient, status, sends, created_at, updated_at)
		VALUES ($1, $2, $3, 'sending', 1, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET status = 'sending',
		    kind = EXCLUDED.kind,
		    recipient = EXCLUDED.recipient,
		    sends = notification_deliveries.sends + 1,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE notification_deliveries.status = 'failed'
		   OR (notification_deliveries.status = 'sending'
		       AND notification_deliveries.updated_at < NOW() - ($4::float8 * INTERVAL '1 millisecond'))
		RETURNING status
		`, jobID, kind, recipient, float64(staleAfter.Milliseconds())).Scan(&claimed)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	// the row exists and was not claimable
	var status string
	err = r.observe("deliveries.try_start.status", func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM notification_deliveries WHERE job_id = $1`, jobID).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// row disappeared; let the caller retry
			return delivery.ErrInProgress
		}
		return err
	}

	if delivery.Status(status) == delivery.StatusSending {
		return delivery.ErrInProgress
	}
	return delivery.ErrAlreadySent
}

func (r *DeliveriesRepo) MarkSent(ctx context.Context, jobID string) error {
	return r.observe("deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent',
		    sent_at = NOW(),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE job_id = $1
		`, jobID)
		return err
	})
}

func (r *DeliveriesRepo) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	return r.observe("deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $2,
		    updated_at = NOW()
		WHERE job_id = $1
		`, jobID, errMsg)
		return err
	})
}

// MarkSkipped records a job that was dropped without sending. The row may not
// exist yet since skips are decided before TryStart.
func (r *DeliveriesRepo) MarkSkipped(ctx context.Context, jobID, reason string) error {
	return r.observe("deliveries.mark_skipped", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (job_id, status, last_error, created_at, updated_at)
		VALUES ($1, 'skipped', $2, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET status = 'skipped',
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
		`, jobID, reason)
		return err
	})
}
