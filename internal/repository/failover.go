package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fieldbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSessionRepository serves from primary until a call fails, then from fallback,
// probing primary again once per recoveryInterval.
type FailoverSessionRepository struct {
	primary   domain.SessionRepository
	fallback  domain.SessionRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverSessionRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverSessionRepository) record(err error) {
	if err == nil {
		if r.isDown.Swap(false) {
			r.logger.Info().Msg("primary session repository recovered")
		}
		return
	}
	r.logger.Error().Err(err).Msg("primary session repository failed, falling back to memory")
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
	r.isDown.Store(true)
}

func (r *FailoverSessionRepository) Members(ctx context.Context, sessionID string) ([]string, error) {
	if r.usePrimary() {
		members, err := r.primary.Members(ctx, sessionID)
		r.record(err)
		if err == nil {
			return members, nil
		}
	}
	return r.fallback.Members(ctx, sessionID)
}

func (r *FailoverSessionRepository) Add(ctx context.Context, sessionID, date string) error {
	if r.usePrimary() {
		err := r.primary.Add(ctx, sessionID, date)
		r.record(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.Add(ctx, sessionID, date)
}

func (r *FailoverSessionRepository) Remove(ctx context.Context, sessionID, date string) error {
	if r.usePrimary() {
		err := r.primary.Remove(ctx, sessionID, date)
		r.record(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.Remove(ctx, sessionID, date)
}

func (r *FailoverSessionRepository) Clear(ctx context.Context, sessionID string) error {
	if r.usePrimary() {
		err := r.primary.Clear(ctx, sessionID)
		r.record(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.Clear(ctx, sessionID)
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		r.record(err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
