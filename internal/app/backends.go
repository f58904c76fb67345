// Package app wires configuration to concrete stores, queues and transports
// for the api and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/rsvphub/internal/config"
	"github.com/geocoder89/rsvphub/internal/db"
	"github.com/geocoder89/rsvphub/internal/domain/delivery"
	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/queue/redisqueue"
	"github.com/geocoder89/rsvphub/internal/repo/memory"
	"github.com/geocoder89/rsvphub/internal/repo/postgres"
)

type EventStore interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
	ActiveStartingBetween(ctx context.Context, from, to time.Time) ([]event.Event, error)
}

type RegistrationStore interface {
	registration.TxRunner
	registration.Reader
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (user.User, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Backends is everything a process reads from or writes to.
type Backends struct {
	Events        EventStore
	Registrations RegistrationStore
	Users         UserStore
	Deliveries    delivery.Ledger
	Queue         queue.Queue
	// Ready lists the dependencies a readiness probe must reach.
	Ready map[string]Pinger

	closers []func()
}

var ErrBackendMismatch = errors.New("queue backend postgres requires STORE=postgres")

// Open connects the backends cfg selects. Postgres schemas are migrated.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, prom *observability.Prom) (*Backends, error) {
	b := &Backends{Ready: map[string]Pinger{}}

	switch cfg.Store {
	case "memory":
		store := memory.NewStore()
		store.LockTimeout = cfg.LockTimeout
		b.Events, b.Registrations, b.Users = store, store, store
		b.Deliveries = memory.NewDeliveries()
		log.Warn("using in-memory store; state is lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg.DBURL, db.PoolOptions{
			AppName:          cfg.ServiceName,
			MaxConns:         cfg.DB.MaxConns,
			StatementTimeout: cfg.DB.StatementTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		prom.WatchPool(pool)

		if err := db.Migrate(ctx, pool); err != nil {
			b.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}

		b.Events = postgres.NewEventsRepo(pool, prom)
		b.Registrations = postgres.NewRegistrationsRepo(pool, prom, cfg.LockTimeoutSQL())
		b.Users = postgres.NewUsersRepo(pool, prom)
		b.Deliveries = postgres.NewDeliveriesRepo(pool, prom)
		b.Ready["postgres"] = pool

		if cfg.Queue.Backend == "postgres" {
			b.Queue = postgres.NewJobsRepo(pool, prom)
		}
	}

	switch cfg.Queue.Backend {
	case "redis":
		rdb := redisqueue.NewClient(redisqueue.ClientConfig{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPass,
			DB:       cfg.Queue.RedisDB,
		})
		b.closers = append(b.closers, func() { _ = rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		b.Queue = redisqueue.New(rdb, redisqueue.Config{Prefix: cfg.Queue.RedisPrefix, DoneTTL: cfg.Queue.DoneTTL})
		b.Ready["redis"] = b.Queue
	case "memory":
		b.Queue = memory.NewQueue()
	case "postgres":
		if b.Queue == nil {
			b.Close()
			return nil, ErrBackendMismatch
		}
	}

	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
