package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tablebook/internal/api"
	"tablebook/internal/config"
	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the booking HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Initial load + hot reload of restaurants configuration
			if err := config.WatchRestaurants(ctx, cfg.Restaurants.Path, cfg.RestaurantsWatchInterval(), logger,
				func(updated *config.RestaurantsConfig) {
					if err := a.applyRestaurants(ctx, updated); err != nil {
						logger.Error().Err(err).Msg("failed to reapply restaurants config")
						return
					}
					logger.Info().Int("restaurants", len(updated.Restaurants)).Msg("restaurants config applied")
				}); err != nil {
				logger.Error().Err(err).Msg("restaurants watch failed")
			}

			if a.locks != nil {
				go a.locks.RunSweeper(ctx, cfg.LockSweepInterval(), logger)
			}
			subscribeAudit(a.bus, logger)

			healthPort := cfg.Monitoring.HealthCheckPort
			if healthPort == 0 {
				healthPort = 8090
			}
			go startHealthServer(ctx, healthPort, a, logger)

			if cfg.Monitoring.PrometheusEnabled {
				metricsPort := cfg.Monitoring.PrometheusPort
				if metricsPort == 0 {
					metricsPort = 9090
				}
				metrics.Register()
				go startMetricsServer(ctx, metricsPort, logger)
			}

			backup := database.NewBackupService(a.db, database.BackupConfig{
				Enabled:       cfg.Backup.Enabled,
				Interval:      cfg.BackupInterval(),
				StoragePath:   cfg.Backup.Path,
				RetentionDays: cfg.Backup.RetentionDays,
			}, logger)
			go backup.Start(ctx)

			rps, burst := cfg.HTTPRate()
			server := api.NewHTTPServer(a.engine, api.Config{
				Port:           cfg.HTTPPort(),
				RatePerSecond:  rps,
				Burst:          burst,
				RequestTimeout: cfg.RequestTimeout(),
				LimiterIdle:    cfg.LimiterIdle(),
			}, logger)

			logger.Info().Str("version", Version).Msg("tablebook started")
			return server.Start(ctx)
		},
	}
}

// subscribeAudit logs every booking lifecycle event.
func subscribeAudit(bus *events.EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "audit").Logger()
	for _, eventType := range []string{
		events.BookingCreated,
		events.BookingWaitlisted,
		events.BookingCancelled,
		events.BookingNoShow,
		events.WaitlistPromoted,
	} {
		bus.Subscribe(eventType, func(ev events.Event) error {
			audit.Info().
				Str("type", ev.Type).
				Int64("booking_id", ev.BookingID).
				Int64("restaurant_id", ev.RestaurantID).
				Msg("booking event")
			return nil
		})
	}
}

func startHealthServer(ctx context.Context, port int, a *app, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := a.db.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if a.rdb != nil {
			if err := a.rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, handler http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msgf("%s server error", name)
	}
}
