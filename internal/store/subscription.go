package store

import (
	"context"
	"sync"
	"time"

	"fieldbook/internal/events"
	"fieldbook/internal/models"
)

const refreshTimeout = 10 * time.Second

// RefreshFunc receives the re-fetched window after a burst of relevant changes.
type RefreshFunc func(rows []*models.Booking, err error)

// Subscription watches booking changes inside a date window. Changes are coalesced:
// the window is re-fetched once, after the debounce period passes without further changes.
type Subscription struct {
	store     *Store
	onRefresh RefreshFunc
	cancel    func()

	mu     sync.Mutex
	start  time.Time
	end    time.Time
	timer  *time.Timer
	closed bool
}

// Subscribe starts watching [start, end]. The caller must Close the subscription.
func (s *Store) Subscribe(start, end time.Time, onRefresh RefreshFunc) *Subscription {
	sub := &Subscription{
		store:     s,
		onRefresh: onRefresh,
		start:     start,
		end:       end,
	}
	sub.cancel = s.bus.Subscribe(events.TypeBookingChanged, sub.handle)
	return sub
}

func (sub *Subscription) handle(e *events.Event) error {
	var change events.ChangePayload
	if err := e.Decode(&change); err != nil {
		return err
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || !sub.relevant(change.Dates) {
		return nil
	}
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.timer = time.AfterFunc(sub.store.debounce, sub.refresh)
	return nil
}

// relevant reports whether any touched date falls inside the window.
// A change without dates is treated as relevant.
func (sub *Subscription) relevant(dates []string) bool {
	if len(dates) == 0 {
		return true
	}
	from := sub.start.Format(models.DateLayout)
	to := sub.end.Format(models.DateLayout)
	for _, d := range dates {
		if d >= from && d <= to {
			return true
		}
	}
	return false
}

func (sub *Subscription) refresh() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	start, end := sub.start, sub.end
	sub.timer = nil
	sub.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	rows, err := sub.store.FetchRange(ctx, start, end)

	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if !closed {
		sub.onRefresh(rows, err)
	}
}

// SetWindow moves the watched window, e.g. after month or week navigation.
func (sub *Subscription) SetWindow(start, end time.Time) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.start = start
	sub.end = end
}

func (sub *Subscription) Window() (time.Time, time.Time) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.start, sub.end
}

// Close stops delivery. A pending debounced refresh is dropped.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	sub.cancel()
}
