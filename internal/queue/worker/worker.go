package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/delivery"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type EventLoader interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
}

type UserLoader interface {
	GetUser(ctx context.Context, id string) (user.User, error)
}

type RegistrationLoader interface {
	FindActive(ctx context.Context, userID, eventID string) (registration.Registration, error)
}

type Config struct {
	WorkerID      string
	Concurrency   int
	PollInterval  time.Duration
	Lease         time.Duration
	StaleSend     time.Duration // a "sending" delivery older than this is retaken
	ShutdownGrace time.Duration
	Retry         RetryPolicy
}

type Deps struct {
	Queue         queue.Consumer
	Deliveries    delivery.Ledger
	Events        EventLoader
	Users         UserLoader
	Registrations RegistrationLoader
	Notifier      notifications.Notifier
	Renderer      *notifications.Renderer
	Logger        *slog.Logger
	Prom          *observability.Prom
	Metrics       *observability.JobMetrics
	Now           func() time.Time
}

type Worker struct {
	cfg Config
	Deps

	ready  atomic.Bool
	tracer trace.Tracer
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.StaleSend <= 0 {
		cfg.StaleSend = cfg.Lease
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewJobMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Renderer == nil {
		deps.Renderer = notifications.NewRenderer("en", "")
	}

	return &Worker{cfg: cfg, Deps: deps, tracer: otel.Tracer("rsvphub/worker")}
}

// Run starts cfg.Concurrency claim loops and blocks until ctx is cancelled and
// in-flight jobs have drained (or ShutdownGrace elapsed).
func (w *Worker) Run(ctx context.Context) error {
	w.ready.Store(true)
	w.Logger.Info("worker started", "worker_id", w.cfg.WorkerID, "concurrency", w.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	w.ready.Store(false)
	w.Logger.Info("worker draining", "worker_id", w.cfg.WorkerID)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.Logger.Info("worker stopped", "worker_id", w.cfg.WorkerID)
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		// leases on unfinished jobs lapse and another worker picks them up
		return errors.New("worker shutdown grace exceeded")
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			w.Logger.Error("worker step failed", "slot", slot, "err", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) Ready() bool { return w.ready.Load() }
