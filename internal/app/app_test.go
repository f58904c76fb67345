package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/config"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/repo/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_Memory(t *testing.T) {
	cfg := config.Config{Store: "memory", LockTimeout: 500 * time.Millisecond}
	cfg.Queue.Backend = "memory"

	b, err := Open(context.Background(), cfg, discard(), observability.NewProm())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	store, ok := b.Registrations.(*memory.Store)
	if !ok {
		t.Fatalf("registrations = %T", b.Registrations)
	}
	if store.LockTimeout != 500*time.Millisecond {
		t.Fatalf("lock timeout = %s", store.LockTimeout)
	}
	if _, ok := b.Queue.(*memory.Queue); !ok {
		t.Fatalf("queue = %T", b.Queue)
	}
	if b.Deliveries == nil || b.Users == nil || b.Events == nil {
		t.Fatalf("backends incomplete: %+v", b)
	}
}

func TestOpen_PostgresQueueNeedsPostgresStore(t *testing.T) {
	cfg := config.Config{Store: "memory"}
	cfg.Queue.Backend = "postgres"

	if _, err := Open(context.Background(), cfg, discard(), observability.NewProm()); !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewNotifier_WrapsTransport(t *testing.T) {
	n, closeFn := NewNotifier(config.Notifier{Kind: "log", SimulateFail: true, FailureLimit: 1}, discard())
	defer func() { _ = closeFn() }()

	pn, ok := n.(*notifications.ProtectedNotifier)
	if !ok {
		t.Fatalf("notifier = %T", n)
	}

	msg := notifications.Message{JobID: "j1", To: "a@example.com"}
	if err := pn.Send(context.Background(), msg); err == nil {
		t.Fatalf("simulated failure expected")
	}
	if err := pn.Send(context.Background(), msg); !errors.Is(err, notifications.ErrCircuitOpen) {
		t.Fatalf("breaker should be open, err = %v", err)
	}
}
