package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"fieldbook/internal/config"
	"fieldbook/internal/database"
	"fieldbook/internal/domain"
	"fieldbook/internal/files"
	"fieldbook/internal/logging"
	"fieldbook/internal/notify"
	"fieldbook/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds what every command needs: config, logger, calendar zone and the database.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	loc    *time.Location
	db     *database.DB
	closer io.Closer
}

func openApp(g *Globals, component string) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", component).Logger()

	loc, err := cfg.Calendar.Location()
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		closeQuietly(closer)
		return nil, err
	}
	db.SetLocation(loc)

	return &app{cfg: cfg, logger: logger, loc: loc, db: db, closer: closer}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close database")
	}
	closeQuietly(a.closer)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// initRedis returns nil when redis is not configured. An unreachable server is
// kept: the session repository fails over and the worker falls back to polling.
func (a *app) initRedis(ctx context.Context) *redis.Client {
	if a.cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(a.cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		a.logger.Warn().Err(err).Str("addr", a.cfg.Redis.Address).Msg("redis unavailable")
		return client
	}
	a.logger.Info().Str("addr", a.cfg.Redis.Address).Msg("redis connected")
	return client
}

func (a *app) sessionRepository(client *redis.Client) domain.SessionRepository {
	ttl := a.cfg.Calendar.SelectionTTL
	fallback := repository.NewMemorySessionRepository(ttl)
	if client == nil {
		return fallback
	}
	return repository.NewFailoverSessionRepository(repository.NewRedisSessionRepository(client, ttl), fallback, &a.logger)
}

// initFiles returns nil when uploads are disabled or the bucket is unreachable;
// the API then answers file routes with 503.
func (a *app) initFiles() domain.FileStorage {
	if !a.cfg.Files.Enabled {
		return nil
	}
	st, err := files.New(a.cfg.Files, &a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("file storage init failed, uploads disabled")
		return nil
	}
	return st
}

// senders builds one sink per enabled notification target. Closers are returned
// for the sinks that hold a connection.
func (a *app) senders(ctx context.Context) ([]domain.Sender, []io.Closer) {
	n := a.cfg.Notifications
	var (
		out     []domain.Sender
		closers []io.Closer
	)

	if n.Webhook.Enabled {
		out = append(out, notify.NewWebhookSender(n.Webhook))
	}
	if n.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(n.Telegram)
		if err != nil {
			a.logger.Warn().Err(err).Msg("telegram sink disabled")
		} else {
			out = append(out, notify.NewTelegramSender(bot, n.Telegram.ChatIDs))
		}
	}
	if n.Kafka.Enabled {
		k, err := notify.NewKafkaSender(n.Kafka)
		if err != nil {
			a.logger.Warn().Err(err).Msg("kafka sink disabled")
		} else {
			out = append(out, k)
			closers = append(closers, k)
		}
	}
	if n.AMQP.Enabled {
		q, err := notify.NewAMQPSender(n.AMQP)
		if err != nil {
			a.logger.Warn().Err(err).Msg("amqp sink disabled")
		} else {
			out = append(out, q)
			closers = append(closers, q)
		}
	}
	if n.Sheets.Enabled {
		s, err := a.sheets(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("sheets sink disabled")
		} else {
			out = append(out, s)
		}
	}
	return out, closers
}

func (a *app) sheets(ctx context.Context) (*notify.SheetsSender, error) {
	s, err := notify.NewSheetsSender(ctx, a.cfg.Notifications.Sheets)
	if err != nil {
		return nil, err
	}
	if err := s.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("sheets connection test: %w", err)
	}
	if err := s.WarmUpCache(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("sheets row cache warm-up failed")
	}
	return s, nil
}
