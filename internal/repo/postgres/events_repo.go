package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, title, description, location, start_at, organizer_id, capacity, is_active, created_at, updated_at`

type EventsRepo struct {
	pool *pgxpool.Pool
	observer
}

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{pool: pool, observer: observer{prom: prom}}
}

func scanEvent(row pgx.Row) (event.Event, error) {
	var e event.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Location, &e.StartAt,
		&e.OrganizerID, &e.Capacity, &e.Active, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// Upsert writes an event as published by the catalog. Capacity and the active
// flag may change; the organizer never does.
func (r *EventsRepo) Upsert(ctx context.Context, e event.Event) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	return r.observe("events.upsert", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    location = EXCLUDED.location,
		    start_at = EXCLUDED.start_at,
		    capacity = EXCLUDED.capacity,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		`, e.ID, e.Title, e.Description, e.Location, e.StartAt,
			e.OrganizerID, e.Capacity, e.Active, e.CreatedAt, now)
		return err
	})
}

func (r *EventsRepo) GetEvent(ctx context.Context, id string) (event.Event, error) {
	var e event.Event
	err := r.observe("events.get_by_id", func() error {
		var err error
		e, err = scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}
	return e, nil
}

// ActiveStartingBetween lists active events with from <= start_at < to.
func (r *EventsRepo) ActiveStartingBetween(ctx context.Context, from, to time.Time) ([]event.Event, error) {
	var rows pgx.Rows
	err := r.observe("events.active_starting_between", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE is_active
		  AND start_at >= $1
		  AND start_at < $2
		ORDER BY start_at ASC, id ASC
		`, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
