package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Members(ctx context.Context, sessionID string) ([]string, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockRepo) Add(ctx context.Context, sessionID, date string) error {
	return m.Called(ctx, sessionID, date).Error(0)
}

func (m *mockRepo) Remove(ctx context.Context, sessionID, date string) error {
	return m.Called(ctx, sessionID, date).Error(0)
}

func (m *mockRepo) Clear(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverSessionRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverSessionRepository(primary, fallback, &logger)
	ctx := context.Background()

	markDown := func() {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()
	}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Members", ctx, "s1").Return([]string{"2025-03-10"}, nil).Once()

		got, err := repo.Members(ctx, "s1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"2025-03-10"}, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Members", ctx, "s2").Return(nil, errors.New("fail")).Once()
		fallback.On("Members", ctx, "s2").Return([]string{}, nil).Once()

		got, err := repo.Members(ctx, "s2")
		assert.NoError(t, err)
		assert.Empty(t, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Add", ctx, "s3", "2025-03-11").Return(nil).Once()

		assert.NoError(t, repo.Add(ctx, "s3", "2025-03-11"))
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Remove", ctx, "s4", "2025-03-11").Return(errors.New("still fail")).Once()
		fallback.On("Remove", ctx, "s4", "2025-03-11").Return(nil).Once()

		assert.NoError(t, repo.Remove(ctx, "s4", "2025-03-11"))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ClearAlreadyDown", func(t *testing.T) {
		markDown()
		fallback.On("Clear", ctx, "s5").Return(nil).Once()

		assert.NoError(t, repo.Clear(ctx, "s5"))
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "Clear", ctx, "s5")
	})

	t.Run("CheckRateLimitFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("CheckRateLimit", ctx, "10.0.0.1", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "10.0.0.1", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "10.0.0.1", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("CheckRateLimitAlreadyDown", func(t *testing.T) {
		markDown()
		fallback.On("CheckRateLimit", ctx, "10.0.0.2", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "10.0.0.2", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		fallback.AssertExpectations(t)
	})
}
