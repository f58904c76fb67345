package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/rsvphub/internal/app"
	"github.com/geocoder89/rsvphub/internal/auth"
	"github.com/geocoder89/rsvphub/internal/config"
	"github.com/geocoder89/rsvphub/internal/coordinator"
	httpx "github.com/geocoder89/rsvphub/internal/http"
	"github.com/geocoder89/rsvphub/internal/http/handlers"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Role:        "api",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
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
		os.Exit(1)
	}
	defer backends.Close()

	coord := coordinator.New(backends.Registrations, backends.Events, backends.Queue, coordinator.Options{
		Logger:  log,
		Metrics: prom,
	})

	// the api only uses the scheduler for the admin trigger; the worker runs the ticker
	reminders := scheduler.New(scheduler.Config{
		Interval: cfg.Worker.SchedulerInterval,
		Lead:     cfg.Worker.ReminderLead,
	}, backends.Events, backends.Registrations, backends.Queue, log, prom)

	ready := make(map[string]handlers.Pinger, len(backends.Ready))
	for name, p := range backends.Ready {
		ready[name] = p
	}

	router := httpx.NewRouter(httpx.Deps{
		Log:            log,
		Prom:           prom,
		JWT:            auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL),
		Registrations:  coord,
		DeadLetters:    backends.Queue,
		Reminders:      reminders,
		Ready:          ready,
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateLimitWindow,
		Dev:            cfg.IsDev(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store, "queue", cfg.Queue.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return
	}
	log.Info("shutdown complete")
}
