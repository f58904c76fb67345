package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/auth"
	"github.com/geocoder89/rsvphub/internal/coordinator"
	"github.com/geocoder89/rsvphub/internal/db"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	apphttp "github.com/geocoder89/rsvphub/internal/http"
	"github.com/geocoder89/rsvphub/internal/http/handlers"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue/worker"
	"github.com/geocoder89/rsvphub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type env struct {
	pool   *pgxpool.Pool
	router *gin.Engine
	jwt    *auth.Manager
	events *postgres.EventsRepo
	users  *postgres.UsersRepo
	regs   *postgres.RegistrationsRepo
	jobs   *postgres.JobsRepo
	worker *worker.Worker
	sent   *recordingNotifier
}

func setup(t *testing.T) *env {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{AppName: "rsvphub-test", MaxConns: 20})
	if err != nil {
		t.Fatalf("pg pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reset(t, pool)
	t.Cleanup(func() { reset(t, pool) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	prom := observability.NewProm()

	e := &env{
		pool:   pool,
		jwt:    auth.NewManager("test-secret-key", "rsvphub", time.Hour),
		events: postgres.NewEventsRepo(pool, prom),
		users:  postgres.NewUsersRepo(pool, prom),
		regs:   postgres.NewRegistrationsRepo(pool, prom, "2000ms"),
		jobs:   postgres.NewJobsRepo(pool, prom),
		sent:   &recordingNotifier{},
	}

	coord := coordinator.New(e.regs, e.events, e.jobs, coordinator.Options{Logger: log, Metrics: prom})
	e.router = apphttp.NewRouter(apphttp.Deps{
		Log:            log,
		Prom:           prom,
		JWT:            e.jwt,
		Registrations:  coord,
		DeadLetters:    e.jobs,
		Ready:          map[string]handlers.Pinger{"postgres": pool},
		RequestTimeout: 5 * time.Second,
		RateLimit:      1000,
		RateWindow:     time.Minute,
		Dev:            true,
	})

	e.worker = worker.New(worker.Config{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Lease:        10 * time.Second,
	}, worker.Deps{
		Queue:         e.jobs,
		Deliveries:    postgres.NewDeliveriesRepo(pool, prom),
		Events:        e.events,
		Users:         e.users,
		Registrations: e.regs,
		Notifier:      e.sent,
		Logger:        log,
		Prom:          prom,
	})
	return e
}

func reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE notification_deliveries, registrations, jobs, events, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func (e *env) seedEvent(t *testing.T, capacity int, startAt time.Time) string {
	t.Helper()
	ev := event.Event{
		ID:          uuid.NewString(),
		Title:       "Integration Meetup",
		Location:    "Abuja",
		StartAt:     startAt,
		OrganizerID: "organizer",
		Capacity:    capacity,
		Active:      true,
	}
	if err := e.events.Upsert(context.Background(), ev); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev.ID
}

func (e *env) seedUser(t *testing.T, id string) string {
	t.Helper()
	u := user.User{ID: id, Email: id + "@example.com", Name: id}
	if err := e.users.Upsert(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return "Bearer " + e.token(t, id)
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(userID, userID+"@example.com", auth.RoleUser)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (e *env) post(path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", bearer)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
