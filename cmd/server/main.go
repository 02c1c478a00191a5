package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fedcal/fedcal/internal/caldav"
	"github.com/fedcal/fedcal/internal/config"
	"github.com/fedcal/fedcal/internal/davserve"
	"github.com/fedcal/fedcal/internal/db"
	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/httpapi"
	"github.com/fedcal/fedcal/internal/jobs"
	"github.com/fedcal/fedcal/internal/ocmclient"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "fedcal").Logger()

	// Pretty logging for local dev
	if os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	st := store.New(pool)

	// Federation wiring
	ocm := ocmclient.New()
	dav := caldav.New(st.FederatedObjects, cfg.ServerHost)
	queue := &jobs.Queue{DB: pool}

	engine := &federation.SyncEngine{
		Calendars:  st.FederatedCalendars,
		Puller:     dav,
		ServerHost: cfg.ServerHost,
	}

	inbound := &federation.InboundService{
		Enabled:    cfg.FederationEnabled,
		Users:      st.Users,
		Calendars:  st.FederatedCalendars,
		Jobs:       queue,
		ServerHost: cfg.ServerHost,
	}

	worker := &jobs.Worker{
		DB:         pool,
		Calendars:  st.FederatedCalendars,
		Engine:     engine,
		Interval:   cfg.SyncPollInterval,
		RetryDelay: cfg.SyncRetryDelay,
	}
	go worker.Run(ctx)

	davHandler := &davserve.Handler{
		Auth:      &federation.ShareAuthenticator{Shares: st.OutgoingShares},
		Calendars: st.Calendars,
		Objects:   st.Objects,
	}

	outbound := &federation.OutboundService{
		Users:      st.Users,
		Shares:     st.OutgoingShares,
		Sender:     ocm,
		BaseURL:    cfg.BaseURL,
		ServerHost: cfg.ServerHost,
	}

	notifier := &federation.Notifier{
		Sender:  ocm,
		BaseURL: cfg.BaseURL,
	}

	srv := &httpapi.Server{
		Inbound:           inbound,
		Outbound:          outbound,
		Notifier:          notifier,
		DAV:               davHandler,
		Calendars:         st.Calendars,
		Objects:           st.Objects,
		Shares:            st.OutgoingShares,
		Health:            st.HealthCheck,
		PrometheusEnabled: cfg.PrometheusEnabled,
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Bool("federation", cfg.FederationEnabled).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
