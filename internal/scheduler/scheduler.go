// Package scheduler turns "event starts soon" into one reminder job per active
// registration. Job ids are derived from (event, user, window), so scanning the
// same window any number of times enqueues each reminder once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
)

var (
	ErrEventInactive = errors.New("event is not active")
	ErrEventStarted  = errors.New("event already started")
)

type Events interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
	ActiveStartingBetween(ctx context.Context, from, to time.Time) ([]event.Event, error)
}

type Attendees interface {
	ListActiveByEvent(ctx context.Context, eventID string) ([]registration.Registration, error)
}

type Config struct {
	Interval time.Duration
	Lead     time.Duration
}

type Scheduler struct {
	cfg       Config
	events    Events
	attendees Attendees
	jobs      queue.Producer

	log  *slog.Logger
	prom *observability.Prom
	now  func() time.Time
}

func New(cfg Config, events Events, attendees Attendees, jobs queue.Producer, log *slog.Logger, prom *observability.Prom) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, events: events, attendees: attendees, jobs: jobs, log: log, prom: prom, now: time.Now}
}

// Run scans immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := s.ScanOnce(ctx); err != nil {
			s.log.ErrorContext(ctx, "reminder scan failed", "err", err)
		} else if n > 0 {
			s.log.InfoContext(ctx, "reminders enqueued", "count", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce enqueues reminders for active events starting in [now, now+Lead).
// It returns how many jobs were newly created.
func (s *Scheduler) ScanOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()

	events, err := s.events.ActiveStartingBetween(ctx, now, now.Add(s.cfg.Lead))
	if err != nil {
		return 0, fmt.Errorf("find upcoming events: %w", err)
	}

	total := 0
	var errs []error
	for _, ev := range events {
		n, err := s.EnqueueForEvent(ctx, ev)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
		}
	}
	return total, errors.Join(errs...)
}

// EnqueueForEventID is the manual trigger for one event, regardless of how far
// away it starts.
func (s *Scheduler) EnqueueForEventID(ctx context.Context, eventID string) (int, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !ev.Active {
		return 0, ErrEventInactive
	}
	if ev.IsPast(s.now()) {
		return 0, ErrEventStarted
	}
	return s.EnqueueForEvent(ctx, ev)
}

func (s *Scheduler) EnqueueForEvent(ctx context.Context, ev event.Event) (int, error) {
	regs, err := s.attendees.ListActiveByEvent(ctx, ev.ID)
	if err != nil {
		return 0, fmt.Errorf("list attendees: %w", err)
	}

	window := job.ReminderWindow(s.cfg.Lead, ev.StartAt)
	now := s.now()

	created := 0
	for _, r := range regs {
		j := job.ForReminder(ev.ID, r.UserID, r.ID, window, now)

		ok, err := s.jobs.Enqueue(ctx, j)
		if err != nil {
			return created, fmt.Errorf("enqueue reminder %s: %w", j.ID, err)
		}
		if ok {
			created++
		}
	}

	if s.prom != nil && created > 0 {
		s.prom.RemindersEnqueued.Add(float64(created))
	}
	return created, nil
}
