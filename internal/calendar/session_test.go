package calendar

import (
	"context"
	"testing"
	"time"

	"fieldbook/internal/database"
	"fieldbook/internal/events"
	"fieldbook/internal/models"
	"fieldbook/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowSource struct {
	delay time.Duration
}

func (s *slowSource) FetchDaily(ctx context.Context, _, _ time.Time) (map[string][]*models.Booking, error) {
	select {
	case <-time.After(s.delay):
		return map[string][]*models.Booking{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowSource) Subscribe(_, _ time.Time, _ store.RefreshFunc) *store.Subscription {
	return nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.SetLocation(time.UTC)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, events.NewEventBus(), &logger)
	st.SetDebounce(20 * time.Millisecond)
	return st
}

func fixedNow() time.Time { return now }

func TestSessionWeekWatchdog(t *testing.T) {
	logger := zerolog.Nop()
	s := NewSession(&slowSource{delay: time.Second}, SessionConfig{
		View:        ViewWeek,
		Anchor:      day(3, 5),
		Location:    time.UTC,
		LoadTimeout: 30 * time.Millisecond,
		Now:         fixedNow,
	}, &logger)
	defer s.Close()

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrLoadTimeout)
}

func TestSessionMonthIgnoresWatchdog(t *testing.T) {
	logger := zerolog.Nop()
	s := NewSession(&slowSource{delay: 60 * time.Millisecond}, SessionConfig{
		View:        ViewMonth,
		Anchor:      day(3, 5),
		Location:    time.UTC,
		LoadTimeout: 10 * time.Millisecond,
		Now:         fixedNow,
	}, &logger)
	defer s.Close()

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Month)
	assert.Equal(t, 3, snap.Month.Month)
}

func TestSessionWatchAndNavigate(t *testing.T) {
	st := newStore(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	s := NewSession(st, SessionConfig{
		View:     ViewWeek,
		Role:     models.RoleAdmin,
		Anchor:   day(3, 5),
		Location: time.UTC,
		Now:      fixedNow,
	}, &logger)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02", snap.Week.Start)

	updates := s.Watch()
	assert.Equal(t, 1, st.Bus().SubscriberCount(events.TypeBookingChanged))

	s.Navigate(1)
	start, end := s.Window()
	assert.Equal(t, day(3, 9), start)
	assert.Equal(t, day(3, 15), end)

	_, err = st.Create(ctx, &models.Booking{
		Date:         day(3, 10),
		Duration:     models.DurationHalfDay,
		Status:       models.StatusConfirmed,
		Service:      "Survey",
		CustomerName: "Lin",
		Email:        "lin@example.com",
		Phone:        "0400",
		Address:      "3 Lane",
		Postcode:     "4000",
	}, 1)
	require.NoError(t, err)

	select {
	case snap := <-updates:
		require.NotNil(t, snap.Week)
		assert.Equal(t, "2025-03-09", snap.Week.Start)
		assert.True(t, snap.Week.Days[1].HasBookings)
	case <-time.After(time.Second):
		t.Fatal("no refresh after a change inside the window")
	}

	assert.False(t, s.Swipe(10, 20))
	assert.True(t, s.Swipe(300, 100))
	start, _ = s.Window()
	assert.Equal(t, day(3, 16), start)

	s.Close()
	assert.Equal(t, 0, st.Bus().SubscriberCount(events.TypeBookingChanged))
	_, ok := <-updates
	assert.False(t, ok)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionBlockSelection(t *testing.T) {
	st := newStore(t)
	logger := zerolog.Nop()

	s := NewSession(st, SessionConfig{
		Role:     models.RoleAdmin,
		Mode:     ModeBlock,
		Anchor:   day(3, 5),
		Location: time.UTC,
		Now:      fixedNow,
	}, &logger)
	defer s.Close()

	s.SetBlockSelection([]string{"2025-03-20"})
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Month.Find("2025-03-20").IsSelected)

	s.SetMode(ModeNormal)
	snap, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Month.Find("2025-03-20").IsSelected)
	assert.Equal(t, ActionSelect, snap.Month.Find("2025-03-20").Action)
}
