package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/ledger"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const registrationColumns = `id, user_id, event_id, registered_at, is_cancelled, cancelled_at`

type RegistrationsRepo struct {
	pool *pgxpool.Pool
	observer
	// lockTimeout is applied with SET LOCAL semantics, e.g. "2000ms".
	lockTimeout string
}

func NewRegistrationsRepo(pool *pgxpool.Pool, prom *observability.Prom, lockTimeout string) *RegistrationsRepo {
	return &RegistrationsRepo{pool: pool, observer: observer{prom: prom}, lockTimeout: lockTimeout}
}

func scanRegistration(row pgx.Row) (registration.Registration, error) {
	var r registration.Registration
	err := row.Scan(&r.ID, &r.UserID, &r.EventID, &r.RegisteredAt, &r.Cancelled, &r.CancelledAt)
	return r, err
}

// WithinTx runs fn in one READ COMMITTED transaction. Any error from fn rolls
// back every write fn made.
func (repo *RegistrationsRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx registration.Tx) error) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if repo.lockTimeout != "" {
		err = repo.observe("registrations.tx.set_lock_timeout", func() error {
			_, e := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, repo.lockTimeout)
			return e
		})
		if err != nil {
			return err
		}
	}

	if err = fn(ctx, &pgTx{tx: tx, observer: repo.observer}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Ledger reads capacity and occupancy for the public spots query.
func (repo *RegistrationsRepo) Ledger(ctx context.Context, eventID string) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{EventID: eventID}
	err := repo.observe("registrations.ledger", func() error {
		return repo.pool.QueryRow(ctx, ledger.SnapshotSQL, eventID).Scan(&snap.Capacity, &snap.Active)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return ledger.Snapshot{}, event.ErrNotFound
		}
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

func (repo *RegistrationsRepo) ListActiveByEvent(ctx context.Context, eventID string) (regs []registration.Registration, err error) {
	var rows pgx.Rows

	err = repo.observe("registrations.list_active_by_event", func() error {
		rows, err = repo.pool.Query(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND NOT is_cancelled
		ORDER BY registered_at ASC, id ASC
		`, eventID)
		return err
	})
	if err != nil {
		if isInvalidID(err) {
			err = event.ErrNotFound
		}
		return
	}
	defer rows.Close()

	regs = make([]registration.Registration, 0)
	for rows.Next() {
		r, e := scanRegistration(rows)
		if e != nil {
			err = e
			return
		}
		regs = append(regs, r)
	}
	if err = rows.Err(); err != nil {
		return
	}

	// an empty list must still tell a missing event apart
	if len(regs) == 0 {
		var exists bool
		err = repo.observe("registrations.list_active_by_event.check_event_exists", func() error {
			return repo.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists)
		})
		if err != nil {
			return
		}
		if !exists {
			err = event.ErrNotFound
		}
	}
	return
}

// FindActive reads outside any transaction; the answer can be stale by the
// time the caller acts on it.
func (repo *RegistrationsRepo) FindActive(ctx context.Context, userID, eventID string) (registration.Registration, error) {
	var r registration.Registration
	err := repo.observe("registrations.find_active", func() error {
		var err error
		r, err = scanRegistration(repo.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE user_id = $1 AND event_id = $2 AND NOT is_cancelled
		`, userID, eventID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}
	return r, nil
}

// pgTx is the registration.Tx of one postgres transaction.
type pgTx struct {
	tx pgx.Tx
	observer
}

// LockEvent takes the event row lock. Waiting longer than lock_timeout
// surfaces as registration.ErrLockTimeout.
func (t *pgTx) LockEvent(ctx context.Context, eventID string) (event.Event, error) {
	var e event.Event
	err := t.observe("registrations.tx.lock_event", func() error {
		var err error
		e, err = scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID))
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isInvalidID(err):
			return event.Event{}, event.ErrNotFound
		case isLockTimeout(err):
			return event.Event{}, registration.ErrLockTimeout
		}
		return event.Event{}, err
	}
	return e, nil
}

func (t *pgTx) FindActive(ctx context.Context, userID, eventID string) (registration.Registration, error) {
	var r registration.Registration
	err := t.observe("registrations.tx.find_active", func() error {
		var err error
		r, err = scanRegistration(t.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE user_id = $1 AND event_id = $2 AND NOT is_cancelled
		`, userID, eventID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}
	return r, nil
}

func (t *pgTx) ActiveCount(ctx context.Context, eventID string) (int, error) {
	var n int
	err := t.observe("registrations.tx.active_count", func() error {
		return t.tx.QueryRow(ctx, ledger.ActiveCountSQL, eventID).Scan(&n)
	})
	return n, err
}

func (t *pgTx) Insert(ctx context.Context, r registration.Registration) error {
	err := t.observe("registrations.tx.insert", func() error {
		_, err := t.tx.Exec(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		`, r.ID, r.UserID, r.EventID, r.RegisteredAt, r.Cancelled, r.CancelledAt)
		return err
	})
	if err != nil {
		if code, constraint := pgCode(err); code == codeUniqueViolation && constraint == activeRegistrationUniq {
			return registration.ErrAlreadyRegistered
		}
		return err
	}
	return nil
}

func (t *pgTx) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	var affected int64
	err := t.observe("registrations.tx.mark_cancelled", func() error {
		tag, err := t.tx.Exec(ctx, `
		UPDATE registrations
		SET is_cancelled = TRUE,
		    cancelled_at = $2
		WHERE id = $1 AND NOT is_cancelled
		`, id, at)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return registration.ErrNotFound
	}
	return nil
}
