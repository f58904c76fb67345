// Package coordinator is the transactional boundary of registration. Every
// state change runs under the event row lock and is followed, after commit, by
// exactly one notification enqueue.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geocoder89/rsvphub/internal/apperr"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/ledger"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	registration.TxRunner
	registration.Reader
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
}

type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Prom
	Now     func() time.Time
}

type Coordinator struct {
	store  Store
	events EventReader
	jobs   queue.Producer

	log    *slog.Logger
	prom   *observability.Prom
	now    func() time.Time
	tracer trace.Tracer
}

func New(store Store, events EventReader, jobs queue.Producer, opts Options) *Coordinator {
	c := &Coordinator{
		store:  store,
		events: events,
		jobs:   jobs,
		log:    opts.Logger,
		prom:   opts.Metrics,
		now:    opts.Now,
		tracer: otel.Tracer("rsvphub/coordinator"),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Register creates an active registration for (userID, eventID).
//
// Checks run in a fixed order: input, identity, existence, active, future,
// not-already-registered, capacity. The first failing check decides the error.
func (c *Coordinator) Register(ctx context.Context, userID, eventID string) (reg registration.Registration, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.Register", userID, eventID)
	defer func() { c.finish(span, "register", err) }()

	if err := checkInput(userID, eventID); err != nil {
		return registration.Registration{}, err
	}

	err = c.store.WithinTx(ctx, func(ctx context.Context, tx registration.Tx) error {
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}

		now := c.now()
		switch {
		case !ev.Active:
			return apperr.ErrEventInactive
		case ev.IsPast(now):
			return apperr.ErrEventPast
		}

		var latest *registration.Registration
		existing, err := tx.FindActive(ctx, userID, eventID)
		switch {
		case err == nil:
			latest = &existing
		case !errors.Is(err, registration.ErrNotFound):
			return err
		}
		if err := registration.StateOf(latest).Register(); err != nil {
			return err
		}

		active, err := tx.ActiveCount(ctx, eventID)
		if err != nil {
			return err
		}
		if !(ledger.Snapshot{EventID: eventID, Capacity: ev.Capacity, Active: active}).HasSpot() {
			return apperr.ErrCapacityExceeded
		}

		reg = registration.New(userID, eventID, now)
		return tx.Insert(ctx, reg)
	})
	if err != nil {
		return registration.Registration{}, c.mapErr(err, "could not register for event")
	}

	c.enqueue(ctx, job.ForRegistration(job.KindRegistrationConfirmed, reg.ID, userID, eventID, c.now()))
	return reg, nil
}

// Unregister cancels the active registration for (userID, eventID).
func (c *Coordinator) Unregister(ctx context.Context, userID, eventID string) (err error) {
	ctx, span := c.startSpan(ctx, "coordinator.Unregister", userID, eventID)
	defer func() { c.finish(span, "unregister", err) }()

	if err := checkInput(userID, eventID); err != nil {
		return err
	}

	var cancelled registration.Registration
	err = c.store.WithinTx(ctx, func(ctx context.Context, tx registration.Tx) error {
		if _, err := tx.LockEvent(ctx, eventID); err != nil {
			return err
		}

		var latest *registration.Registration
		existing, err := tx.FindActive(ctx, userID, eventID)
		switch {
		case err == nil:
			latest = &existing
		case !errors.Is(err, registration.ErrNotFound):
			return err
		}
		if err := registration.StateOf(latest).Cancel(); err != nil {
			return err
		}

		now := c.now()
		if err := tx.MarkCancelled(ctx, existing.ID, now); err != nil {
			return err
		}
		cancelled = existing
		return cancelled.Cancel(now)
	})
	if err != nil {
		return c.mapErr(err, "could not cancel registration")
	}

	c.enqueue(ctx, job.ForRegistration(job.KindRegistrationCancelled, cancelled.ID, userID, eventID, c.now()))
	return nil
}

// AvailableSpots reads the ledger outside of any lock; the value may be stale
// by the time the caller acts on it.
func (c *Coordinator) AvailableSpots(ctx context.Context, eventID string) (ledger.Snapshot, error) {
	if !utils.IsUUID(eventID) {
		return ledger.Snapshot{}, apperr.ErrInvalidInput
	}

	snap, err := c.store.Ledger(ctx, eventID)
	if err != nil {
		return ledger.Snapshot{}, c.mapErr(err, "could not read capacity")
	}
	return snap, nil
}

// Attendees lists active registrations; only the event organizer may call it.
func (c *Coordinator) Attendees(ctx context.Context, userID, eventID string) ([]registration.Registration, error) {
	if err := checkInput(userID, eventID); err != nil {
		return nil, err
	}

	ev, err := c.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, c.mapErr(err, "could not load event")
	}
	if !ev.IsOrganizer(userID) {
		return nil, apperr.ErrNotOrganizer
	}

	regs, err := c.store.ListActiveByEvent(ctx, eventID)
	if err != nil {
		return nil, c.mapErr(err, "could not list attendees")
	}
	return regs, nil
}

func checkInput(userID, eventID string) error {
	if !utils.IsUUID(eventID) {
		return apperr.ErrInvalidInput
	}
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	return nil
}

// enqueue never fails the caller: the state change is already committed.
func (c *Coordinator) enqueue(ctx context.Context, j job.Job) {
	created, err := c.jobs.Enqueue(context.WithoutCancel(ctx), j)
	if err != nil {
		c.log.ErrorContext(ctx, "enqueue notification failed",
			"job_id", j.ID,
			"job_kind", string(j.Kind),
			"registration_id", j.RegistrationID,
			"err", err,
		)
		if c.prom != nil {
			c.prom.EnqueueFailures.WithLabelValues(string(j.Kind)).Inc()
		}
		return
	}

	c.log.DebugContext(ctx, "notification enqueued", "job_id", j.ID, "job_kind", string(j.Kind), "created", created)
}

// mapErr turns store sentinels into apperr values; anything unknown becomes
// an internal error so driver errors never leave this package.
func (c *Coordinator) mapErr(err error, msg string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, event.ErrNotFound):
		return apperr.ErrEventNotFound
	case errors.Is(err, registration.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(err, apperr.KindBusy, apperr.ErrBusy.Code, apperr.ErrBusy.Message)
	case errors.Is(err, registration.ErrAlreadyRegistered):
		return apperr.ErrAlreadyRegistered
	case errors.Is(err, registration.ErrNotFound):
		return apperr.ErrNotRegistered
	default:
		c.log.Error("coordinator store error", "err", err)
		return apperr.Internal(err, msg)
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name, userID, eventID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("event.id", eventID),
	))
}

func (c *Coordinator) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		span.SetStatus(codes.Error, apperr.CodeOf(err))
	}
	span.End()

	if c.prom != nil {
		c.prom.RegistrationResults.WithLabelValues(op, result).Inc()
	}
}
