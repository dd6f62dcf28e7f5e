package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/authbroker/internal/accounts"
	"github.com/org/authbroker/internal/audit"
	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/config"
	"github.com/org/authbroker/internal/events"
	"github.com/org/authbroker/internal/peercred"
	"github.com/org/authbroker/internal/rpc"
	"github.com/org/authbroker/internal/storage"
	"github.com/org/authbroker/internal/twofactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := config.Path()
	cfg, found, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !found {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	c := clock.Real()
	bus := events.NewBus()
	sessions := auth.NewSessionRegistry(c, bus)
	tokens := auth.NewTokenRegistry(c)
	accts := accounts.NewStore(store)

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	tf := twofactor.NewService(store, c, cfg.OTPIssuer, hostname)

	var peers auth.PeerResolver
	if r, err := peercred.NewResolver(); err != nil {
		log.Warn().Err(err).Msg("proc filesystem unavailable, loopback root elevation disabled")
	} else {
		peers = r
	}

	auditor := audit.NewLogger(store, c)
	auditEvents, cancelAudit := bus.Subscribe(auth.SessionsCollection, 256)
	defer cancelAudit()
	go auditor.Run(ctx, auditEvents)

	srv := rpc.NewServer(rpc.Deps{
		Service:   auth.NewService(sessions, tokens, accts, accts, tf, cfg.DefaultTokenTTL),
		Elevator:  auth.NewElevator(sessions, accts, peers, cfg.TrustHAPeers),
		TwoFactor: tf,
		Auditor:   auditor,
		Bus:       bus,
		Clock:     c,
	}, rpc.Config{
		UnixSocket: cfg.UnixSocket,
		ListenAddr: cfg.ListenAddr,
	})

	if err := rpc.RegisterStateMetrics(prometheus.DefaultRegisterer, srv); err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	go tokens.Run(ctx, cfg.TokenSweepInterval)
	go srv.RunMaintenance(ctx, cfg.TokenSweepInterval)

	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      rpc.BuildRouter(srv),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server started")
	}

	log.Info().Msg("auth broker started")
	<-ctx.Done()

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics shutdown error")
		}
	}
	log.Info().Msg("server stopped")
}

// openStore connects to Postgres and applies migrations. Without a
// db_url the broker runs on an in-memory store seeded with root.
func openStore(ctx context.Context, cfg config.Config) (storage.StorageBackend, error) {
	if cfg.DBUrl == "" {
		log.Warn().Msg("db_url not configured, using in-memory storage")
		return storage.NewMemoryBackend(), nil
	}

	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		return nil, err
	}
	version, err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Uint("schema_version", version).Msg("migrations applied")
	return store, nil
}
