package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldbook/internal/api"
	"fieldbook/internal/database"
	"fieldbook/internal/domain"
	"fieldbook/internal/events"
	"fieldbook/internal/export"
	"fieldbook/internal/metrics"
	"fieldbook/internal/notify"
	"fieldbook/internal/realtime"
	"fieldbook/internal/service"
	"fieldbook/internal/store"
	"fieldbook/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type ServeCmd struct {
	HealthInterval time.Duration `help:"How often gRPC health is re-checked." default:"15s"`
	SweepInterval  time.Duration `help:"How often idle rate limiter buckets are dropped." default:"5m"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := openApp(g, "server")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := a.initRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewEventBus()
	bridge := a.startBridge(ctx, redisClient, bus)
	if bridge != nil {
		defer bridge.Close()
	}

	st := store.New(a.db, bus, &a.logger)
	st.SetDebounce(a.cfg.Calendar.RefreshDebounce)

	var sinks []domain.Sender
	if a.cfg.Notifications.Enabled {
		var closers []io.Closer
		sinks, closers = a.senders(ctx)
		for _, cl := range closers {
			defer closeQuietly(cl)
		}
	}
	fanout := notify.NewFanout(&a.logger, sinks...)
	a.logger.Info().Int("sinks", fanout.Len()).Msg("notification sinks ready")

	notifier := worker.NewNotificationWorker(a.db, fanout, redisClient, worker.RetryPolicyFrom(a.cfg.Notifications.Retry), &a.logger)
	notifier.SetPolling(a.cfg.Notifications.PollInterval, a.cfg.Notifications.BatchSize)
	go notifier.Start(ctx)

	bookings := service.NewBookingService(st, notifier, a.initFiles(), a.loc, &a.logger)
	bookings.SetCancelGate(service.NewCancelGate(a.cfg.Calendar.CancelConfirmTTL))

	sessions := a.sessionRepository(redisClient)
	selection := service.NewBlockSelectionService(sessions, bookings, a.loc, &a.logger)

	if a.cfg.Backup.Enabled {
		go database.NewBackupService(a.db, a.cfg.Database.Path, a.cfg.Backup, &a.logger).Start(ctx)
	}
	if a.cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort, &a.logger)
	}

	if !a.cfg.API.Enabled {
		a.logger.Warn().Msg("api disabled in config, running the notification worker only")
		<-ctx.Done()
		return nil
	}

	ready := readiness(a.db, redisClient)
	httpServer := api.NewHTTPServer(a.cfg, api.Deps{
		Bookings:  bookings,
		Selection: selection,
		Calendar:  st,
		Exporter:  export.New(st, a.loc, &a.logger),
		Sessions:  sessions,
		Ready:     ready,
	}, &a.logger)

	var grpcServer *api.GRPCServer
	if a.cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(a.cfg.API, ready, &a.logger)
		if err != nil {
			return fmt.Errorf("create grpc server: %w", err)
		}
	}

	return serve(ctx, httpServer, grpcServer, c, &a.logger)
}

func (a *app) startBridge(ctx context.Context, client *redis.Client, bus *events.EventBus) *realtime.RedisBridge {
	if client == nil {
		return nil
	}
	bridge := realtime.NewRedisBridge(client, bus, realtime.DefaultChannel, &a.logger)
	if err := bridge.Start(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("realtime bridge disabled, calendars only see local changes")
		return nil
	}
	return bridge
}

// readiness fails when the database is unreachable. Redis is optional and only logged.
func readiness(db *database.DB, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return &domain.StorageError{Op: "ping", Err: err}
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("redis ping failed")
			}
		}
		return nil
	}
}

func serve(ctx context.Context, httpServer *api.HTTPServer, grpcServer *api.GRPCServer, c *ServeCmd, logger *zerolog.Logger) error {
	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go httpServer.SweepLimiters(ctx, c.SweepInterval)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		go grpcServer.WatchHealth(ctx, c.HealthInterval)
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("grpc health enabled")
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
