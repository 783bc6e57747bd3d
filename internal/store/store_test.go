package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldbook/internal/database"
	"fieldbook/internal/domain"
	"fieldbook/internal/events"
	"fieldbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.SetLocation(time.UTC)
	t.Cleanup(func() { db.Close() })
	return New(db, events.NewEventBus(), &logger)
}

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func booking(date time.Time, email string) *models.Booking {
	return &models.Booking{
		Date:         date,
		Duration:     models.DurationFullDay,
		Status:       models.StatusConfirmed,
		Service:      "Site survey",
		CustomerName: "Grace Hopper",
		Email:        email,
		Phone:        "0400111222",
		Address:      "2 Compiler St",
		Postcode:     "3000",
	}
}

func TestStoreCRUD(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var changes []events.ChangePayload
	s.Bus().Subscribe(events.TypeBookingChanged, func(e *events.Event) error {
		var p events.ChangePayload
		require.NoError(t, e.Decode(&p))
		changes = append(changes, p)
		return nil
	})

	created, err := s.Create(ctx, booking(day(10), "grace@example.com"), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, created.JobNumber)

	target := day(12)
	moved, err := s.Update(ctx, created.ID, models.BookingPatch{Date: &target}, 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-12", moved.DateKey())

	daily, err := s.FetchDaily(ctx, day(9), day(15))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-12"}, SortedKeys(daily))

	_, err = s.Cancel(ctx, created.ID, "no longer needed", models.ActorAdmin)
	require.NoError(t, err)

	rows, err := s.FetchRange(ctx, day(9), day(15))
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Len(t, changes, 3)
	assert.Equal(t, events.OpInsert, changes[0].Op)
	assert.Equal(t, []string{"2025-03-10", "2025-03-12"}, changes[1].Dates)
	assert.Equal(t, []string{"2025-03-12"}, changes[2].Dates)
}

func TestStoreErrorMapping(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = s.Create(ctx, booking(day(10), "a@example.com"), 1)
	require.NoError(t, err)

	_, err = s.Create(ctx, booking(day(10), "b@example.com"), 1)
	var conflict *domain.AvailabilityConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.ReasonCapacity, conflict.Reason)
	assert.Equal(t, "2025-03-10", conflict.Date.Format(models.DateLayout))

	invalid := booking(day(11), "")
	invalid.Duration = "week"
	_, err = s.Create(ctx, invalid, 1)
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, validation.Fields, "email")
	assert.Contains(t, validation.Fields, "duration")
}

func TestStorageErrorWrapping(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	s := New(db, nil, &logger)
	db.Close()

	_, err = s.FetchRange(context.Background(), day(1), day(31))
	var storage *domain.StorageError
	require.True(t, errors.As(err, &storage))
	assert.Equal(t, "fetch_range", storage.Op)
}

func TestSelfServiceKey(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, booking(day(10), "Grace@Example.com"), 1)
	require.NoError(t, err)

	got, err := s.GetByJobNumberAndEmail(ctx, " "+created.JobNumber+" ", "GRACE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = s.GetByJobNumberAndEmail(ctx, created.JobNumber, "someone@example.com")
	assert.ErrorIs(t, err, domain.ErrNoBookingFound)
	_, err = s.GetByJobNumberAndEmail(ctx, "J99999", "grace@example.com")
	assert.ErrorIs(t, err, domain.ErrNoBookingFound)
}

func TestDeleteBlocked(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	blocked := booking(day(10), models.BlockedEmail)
	blocked.IsBlocked = true
	_, err := s.Create(ctx, blocked, 2)
	require.NoError(t, err)

	removed, err := s.DeleteBlocked(ctx, day(10))
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	removed, err = s.DeleteBlocked(ctx, day(10))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSubscription(t *testing.T) {
	s := setupStore(t)
	s.SetDebounce(30 * time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var refreshes int32
	var last []*models.Booking
	sub := s.Subscribe(day(9), day(15), func(rows []*models.Booking, err error) {
		assert.NoError(t, err)
		mu.Lock()
		last = rows
		mu.Unlock()
		atomic.AddInt32(&refreshes, 1)
	})
	defer sub.Close()

	t.Run("BurstCoalesces", func(t *testing.T) {
		for d := 10; d <= 12; d++ {
			_, err := s.Create(ctx, booking(day(d), "burst@example.com"), 1)
			require.NoError(t, err)
		}
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&refreshes) == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

		mu.Lock()
		assert.Len(t, last, 3)
		mu.Unlock()
	})

	t.Run("OutsideWindowIgnored", func(t *testing.T) {
		_, err := s.Create(ctx, booking(day(25), "later@example.com"), 1)
		require.NoError(t, err)
		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	})

	t.Run("SetWindow", func(t *testing.T) {
		sub.SetWindow(day(23), day(29))
		start, _ := sub.Window()
		assert.Equal(t, day(23), start)

		_, err := s.Create(ctx, booking(day(26), "moved@example.com"), 1)
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&refreshes) == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("ClosedDropsPending", func(t *testing.T) {
		_, err := s.Create(ctx, booking(day(27), "closing@example.com"), 1)
		require.NoError(t, err)
		sub.Close()
		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, int32(2), atomic.LoadInt32(&refreshes))
		assert.Equal(t, 0, s.Bus().SubscriberCount(events.TypeBookingChanged))
	})
}
