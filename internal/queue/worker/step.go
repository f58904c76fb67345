package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/rsvphub/internal/apperr"
	"github.com/geocoder89/rsvphub/internal/domain/delivery"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/geocoder89/rsvphub/internal/jobs"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome label of one processed job.
type Result string

const (
	ResultDone      Result = "done"
	ResultSkipped   Result = "skipped"
	ResultDuplicate Result = "duplicate"
	ResultRetry     Result = "retry"
	ResultDead      Result = "dead"
)

// skipError marks a job that can never be delivered meaningfully (the user or
// event is gone, the reminder's registration was cancelled). It is acked.
type skipError struct{ reason string }

func (e skipError) Error() string { return "skip: " + e.reason }

// permanentError goes straight to the dead letter without spending retries.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// ProcessOne claims and processes at most one job. It reports false when the
// queue had nothing ready.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.Queue.Claim(claimCtx, w.cfg.WorkerID, w.cfg.Lease)
	cancel()

	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return false, nil
		}
		return false, err
	}

	w.Metrics.IncClaimed()

	// a claimed job finishes even if shutdown starts; the lease bounds it
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Lease)
	defer cancel()

	_, err = w.Process(jobCtx, j)
	return true, err
}

// Process runs one claimed job to a terminal queue transition: ack, retry or
// dead letter. The returned error is only set when that transition itself
// could not be recorded.
func (w *Worker) Process(ctx context.Context, j job.Job) (result Result, err error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "worker.Process", trace.WithAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("job.kind", string(j.Kind)),
		attribute.Int("job.attempt", j.Attempts),
	))

	if w.Prom != nil {
		w.Prom.JobsInFlight.Inc()
	}
	defer func() {
		d := time.Since(start)
		w.Metrics.ObserveDuration(d)
		if w.Prom != nil {
			w.Prom.JobsInFlight.Dec()
			w.Prom.JobDuration.WithLabelValues(string(j.Kind), string(result)).Observe(d.Seconds())
			w.Prom.JobResults.WithLabelValues(string(j.Kind), string(result)).Inc()
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("job.result", string(result)))
		span.End()
	}()

	log := w.Logger.With("job_id", j.ID, "job_kind", string(j.Kind), "attempt", j.Attempts, "worker_id", w.cfg.WorkerID)

	// a previous holder crashed on its last allowed attempt
	if j.Attempts > j.MaxAttempts {
		return w.deadLetter(ctx, j, errors.New("attempts exhausted before completion"))
	}

	sendErr := w.deliver(ctx, j)

	var skip skipError
	switch {
	case sendErr == nil:
		log.InfoContext(ctx, "job done")
		w.Metrics.IncSent(w.Now())
		return ResultDone, w.settled(ctx, j, w.Queue.Ack(ctx, j.ID, w.owner(j)))

	case errors.Is(sendErr, delivery.ErrAlreadySent):
		log.InfoContext(ctx, "job already delivered; acking duplicate")
		w.Metrics.IncDuplicate()
		return ResultDuplicate, w.settled(ctx, j, w.Queue.Ack(ctx, j.ID, w.owner(j)))

	case errors.As(sendErr, &skip):
		log.InfoContext(ctx, "job skipped", "reason", skip.reason)
		w.Metrics.IncSkipped()
		if err := w.Deliveries.MarkSkipped(ctx, j.ID, skip.reason); err != nil {
			log.WarnContext(ctx, "record skipped delivery failed", "err", err)
		}
		return ResultSkipped, w.settled(ctx, j, w.Queue.Ack(ctx, j.ID, w.owner(j)))

	case errors.As(sendErr, new(permanentError)):
		return w.deadLetter(ctx, j, sendErr)
	}

	if j.Exhausted() {
		return w.deadLetter(ctx, j, sendErr)
	}

	delay := w.cfg.Retry.Backoff(j.Attempts)
	log.WarnContext(ctx, "job failed; retry scheduled", "err", sendErr, "retry_in", delay.String())
	w.Metrics.IncRetried()
	return ResultRetry, w.settled(ctx, j, w.Queue.Retry(ctx, j.ID, w.owner(j), w.Now().Add(delay), sendErr.Error()))
}

func (w *Worker) deadLetter(ctx context.Context, j job.Job, cause error) (Result, error) {
	exhausted := apperr.Wrap(cause, apperr.KindDeliveryExhausted, apperr.ErrDeliveryExhausted.Code, apperr.ErrDeliveryExhausted.Message)
	w.Logger.ErrorContext(ctx, "job dead-lettered",
		"job_id", j.ID,
		"job_kind", string(j.Kind),
		"attempts", j.Attempts,
		"err", exhausted,
	)
	w.Metrics.IncDeadLettered()
	return ResultDead, w.settled(ctx, j, w.Queue.DeadLetter(ctx, j.ID, w.owner(j), cause.Error()))
}

// owner is the lease holder the queue fences outcomes on.
func (w *Worker) owner(j job.Job) string {
	if j.LockedBy != nil {
		return *j.LockedBy
	}
	return w.cfg.WorkerID
}

// settled drops ErrLeaseLost: the job was reclaimed or already finished and
// the current holder records the outcome.
func (w *Worker) settled(ctx context.Context, j job.Job, err error) error {
	if errors.Is(err, queue.ErrLeaseLost) {
		w.Logger.WarnContext(ctx, "job lease lost; outcome not recorded",
			"job_id", j.ID,
			"worker_id", w.owner(j),
		)
		w.Metrics.IncLeaseLost()
		return nil
	}
	return err
}

// deliver loads fresh state, claims the delivery slot and sends.
func (w *Worker) deliver(ctx context.Context, j job.Job) error {
	if err := jobs.Validate(j); err != nil {
		return permanentError{err}
	}

	u, err := w.Users.GetUser(ctx, j.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return skipError{"user no longer exists"}
		}
		return fmt.Errorf("load user: %w", err)
	}

	ev, err := w.Events.GetEvent(ctx, j.EventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return skipError{"event no longer exists"}
		}
		return fmt.Errorf("load event: %w", err)
	}

	if j.Kind == job.KindEventReminder {
		if reason, ok, err := w.reminderStale(ctx, j, ev); err != nil {
			return err
		} else if !ok {
			return skipError{reason}
		}
	}

	var organizer *user.User
	if j.Kind == job.KindRegistrationConfirmed && ev.OrganizerID != "" {
		if org, err := w.Users.GetUser(ctx, ev.OrganizerID); err == nil {
			organizer = &org
		}
	}

	msg, err := w.Renderer.Render(notifications.RenderInput{
		JobID:     j.ID,
		Kind:      j.Kind,
		User:      u,
		Event:     ev,
		Organizer: organizer,
	})
	if err != nil {
		return permanentError{err}
	}

	if err := w.Deliveries.TryStart(ctx, j.ID, string(j.Kind), u.Email, w.cfg.StaleSend); err != nil {
		return err
	}

	if err := w.Notifier.Send(ctx, msg); err != nil {
		if markErr := w.Deliveries.MarkFailed(ctx, j.ID, err.Error()); markErr != nil {
			w.Logger.WarnContext(ctx, "record failed delivery failed", "job_id", j.ID, "err", markErr)
		}
		return fmt.Errorf("send: %w", err)
	}

	// The mail is out. If this write is lost the job is retried and the
	// stale "sending" row lets it send again: at-least-once, not exactly-once.
	if err := w.Deliveries.MarkSent(ctx, j.ID); err != nil {
		w.Logger.ErrorContext(ctx, "record sent delivery failed", "job_id", j.ID, "err", err)
	}
	return nil
}

// reminderStale reports ok=false when a reminder should no longer go out.
func (w *Worker) reminderStale(ctx context.Context, j job.Job, ev event.Event) (string, bool, error) {
	if !ev.Active {
		return "event deactivated", false, nil
	}
	if ev.IsPast(w.Now()) {
		return "event already started", false, nil
	}

	// The job id covers (event, user, window) only, so a cancel followed by a
	// re-registration reuses this job. Ask about the pair, not the row id.
	if _, err := w.Registrations.FindActive(ctx, j.UserID, j.EventID); err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			return "no active registration", false, nil
		}
		return "", false, fmt.Errorf("load registration: %w", err)
	}
	return "", true, nil
}
