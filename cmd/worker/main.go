package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/rsvphub/internal/app"
	"github.com/geocoder89/rsvphub/internal/config"
	"github.com/geocoder89/rsvphub/internal/notifications"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue/worker"
	"github.com/geocoder89/rsvphub/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code; deferred cleanup has finished by the
// time main exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Role:        "worker",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Error("tracer init failed", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(tctx)
	}()

	prom := observability.NewProm()

	backends, err := app.Open(ctx, cfg, log, prom)
	if err != nil {
		log.Error("backend init failed", "err", err)
		return 1
	}
	defer backends.Close()

	notifier, closeNotifier := app.NewNotifier(cfg.Notifier, log)
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Error("notifier close failed", "err", err)
		}
	}()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host + "-" + strconv.Itoa(os.Getpid())
	}

	w := worker.New(worker.Config{
		WorkerID:      workerID,
		Concurrency:   cfg.Worker.Concurrency,
		PollInterval:  cfg.Worker.PollInterval,
		Lease:         cfg.Worker.Lease,
		StaleSend:     cfg.Worker.Lease,
		ShutdownGrace: cfg.Worker.ShutdownGrace,
		Retry: worker.RetryPolicy{
			Base:   cfg.Worker.RetryBase,
			Max:    cfg.Worker.RetryMax,
			Jitter: cfg.Worker.RetryJitter,
		},
	}, worker.Deps{
		Queue:         backends.Queue,
		Deliveries:    backends.Deliveries,
		Events:        backends.Events,
		Users:         backends.Users,
		Registrations: backends.Registrations,
		Notifier:      notifier,
		Renderer:      notifications.NewRenderer(cfg.Notifier.Lang, cfg.Notifier.Signoff),
		Logger:        log,
		Prom:          prom,
		Metrics:       observability.NewJobMetrics(),
	})

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.Worker.SchedulerInterval,
		Lead:     cfg.Worker.ReminderLead,
	}, backends.Events, backends.Registrations, backends.Queue, log, prom)

	pingers := make([]worker.Pinger, 0, len(backends.Ready))
	for _, p := range backends.Ready {
		pingers = append(pingers, p)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.Handle("/", w.HealthHandler(pingers...))

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(gctx)
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		log.Info("health server starting", "port", cfg.Worker.HealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		return healthSrv.Shutdown(sctx)
	})

	err = g.Wait()
	if code := exitCode(err); code != 0 {
		log.Error("worker stopped with error", "err", err)
		return code
	}
	log.Info("worker shutdown complete")
	return 0
}

// exitCode maps the supervisor's result to a process status. Cancellation
// is the normal signal-driven stop.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
