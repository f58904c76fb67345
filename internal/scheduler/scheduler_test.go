package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/coordinator"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue/worker"
	"github.com/geocoder89/rsvphub/internal/repo/memory"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	s     *Scheduler
	c     *coordinator.Coordinator
	store *memory.Store
	q     *memory.Queue
	prom  *observability.Prom
}

func newEnv(t *testing.T) env {
	t.Helper()

	store := memory.NewStore()
	q := memory.NewQueue()
	q.Now = func() time.Time { return now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	prom := observability.NewProm()

	c := coordinator.New(store, store, q, coordinator.Options{Logger: log, Now: func() time.Time { return now }})
	s := New(Config{Interval: time.Minute, Lead: 24 * time.Hour}, store, store, q, log, prom)
	s.now = func() time.Time { return now }

	return env{s: s, c: c, store: store, q: q, prom: prom}
}

func (e env) event(t *testing.T, startIn time.Duration, users ...string) event.Event {
	t.Helper()

	ev := event.Event{ID: uuid.NewString(), Title: "t", StartAt: now.Add(startIn), Capacity: 100, Active: true}
	e.store.PutEvent(ev)
	for _, u := range users {
		if _, err := e.c.Register(context.Background(), u, ev.ID); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}
	return ev
}

func (e env) reminders() []job.Job {
	var out []job.Job
	for _, j := range e.q.All() {
		if j.Kind == job.KindEventReminder {
			out = append(out, j)
		}
	}
	return out
}

func TestScanOnce_EnqueuesOncePerRegistration(t *testing.T) {
	e := newEnv(t)
	e.event(t, 20*time.Hour, "alice", "bob")
	e.event(t, 48*time.Hour, "carol")

	n, err := e.s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("created %d, want 2", n)
	}

	n, err = e.s.ScanOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second scan = %d, %v; want 0", n, err)
	}
	if got := len(e.reminders()); got != 2 {
		t.Fatalf("reminder jobs = %d, want 2", got)
	}
	if got := testutil.ToFloat64(e.prom.RemindersEnqueued); got != 2 {
		t.Fatalf("metric = %v, want 2", got)
	}
}

func TestScanOnce_SkipsCancelledAndInactive(t *testing.T) {
	e := newEnv(t)
	ev := e.event(t, 2*time.Hour, "alice", "bob")
	if err := e.c.Unregister(context.Background(), "bob", ev.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	inactive := e.event(t, 3*time.Hour, "carol")
	inactive.Active = false
	e.store.PutEvent(inactive)

	if _, err := e.s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	got := e.reminders()
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("reminders = %+v", got)
	}
}

func TestScanOnce_RescheduledEventGetsNewReminder(t *testing.T) {
	e := newEnv(t)
	ev := e.event(t, 10*time.Hour, "alice")

	_, _ = e.s.ScanOnce(context.Background())

	ev.StartAt = ev.StartAt.Add(2 * time.Hour)
	e.store.PutEvent(ev)

	n, err := e.s.ScanOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("scan after move = %d, %v; want 1", n, err)
	}
}

func TestEnqueueForEventID(t *testing.T) {
	e := newEnv(t)
	far := e.event(t, 10*24*time.Hour, "alice")

	n, err := e.s.EnqueueForEventID(context.Background(), far.ID)
	if err != nil || n != 1 {
		t.Fatalf("EnqueueForEventID = %d, %v", n, err)
	}

	if _, err := e.s.EnqueueForEventID(context.Background(), uuid.NewString()); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("err = %v, want event.ErrNotFound", err)
	}

	inactive := e.event(t, time.Hour)
	inactive.Active = false
	e.store.PutEvent(inactive)
	if _, err := e.s.EnqueueForEventID(context.Background(), inactive.ID); !errors.Is(err, ErrEventInactive) {
		t.Fatalf("err = %v, want ErrEventInactive", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.event(t, time.Hour, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(e.reminders()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(e.reminders()) != 1 {
		t.Fatalf("expected the initial scan to enqueue")
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *countingNotifier) Send(_ context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, msg.Kind)
	return nil
}

func (n *countingNotifier) count(kind job.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == string(kind) {
			c++
		}
	}
	return c
}

func TestReminder_ReRegistrationInSameWindowIsDelivered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.store.PutUser(user.User{ID: "u1", Email: "u1@example.com", Name: "Ada"})
	ev := e.event(t, 20*time.Hour, "u1")

	if n, err := e.s.ScanOnce(ctx); err != nil || n != 1 {
		t.Fatalf("first scan = %d, %v", n, err)
	}

	if err := e.c.Unregister(ctx, "u1", ev.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := e.c.Register(ctx, "u1", ev.ID); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	// same (event, user, window): the queued reminder is the one that must go out
	if n, err := e.s.ScanOnce(ctx); err != nil || n != 0 {
		t.Fatalf("rescan = %d, %v", n, err)
	}

	d := memory.NewDeliveries()
	d.Now = func() time.Time { return now }
	n := &countingNotifier{}
	w := worker.New(worker.Config{WorkerID: "w-test", Lease: time.Minute}, worker.Deps{
		Queue:         e.q,
		Deliveries:    d,
		Events:        e.store,
		Users:         e.store,
		Registrations: e.store,
		Notifier:      n,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return now },
	})

	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
		if !processed {
			break
		}
	}

	if got := n.count(job.KindEventReminder); got != 1 {
		t.Fatalf("reminders sent = %d, want 1", got)
	}
}
