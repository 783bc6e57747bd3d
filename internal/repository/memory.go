package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

type selectionEntry struct {
	dates     map[string]struct{}
	expiresAt time.Time
}

type MemorySessionRepository struct {
	mu         sync.Mutex
	selections map[string]*selectionEntry
	rateLimits sync.Map
	ttl        time.Duration
	now        func() time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		selections: make(map[string]*selectionEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

// entry returns the live selection for sessionID, dropping it when expired.
func (r *MemorySessionRepository) entry(sessionID string, create bool) *selectionEntry {
	e, ok := r.selections[sessionID]
	if ok && r.ttl > 0 && r.now().After(e.expiresAt) {
		delete(r.selections, sessionID)
		ok = false
	}
	if !ok && create {
		e = &selectionEntry{dates: make(map[string]struct{})}
		r.selections[sessionID] = e
		ok = true
	}
	if !ok {
		return nil
	}
	return e
}

func (r *MemorySessionRepository) Members(ctx context.Context, sessionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sessionID, false)
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.dates))
	for d := range e.dates {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemorySessionRepository) Add(ctx context.Context, sessionID, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sessionID, true)
	e.dates[date] = struct{}{}
	e.expiresAt = r.now().Add(r.ttl)
	return nil
}

func (r *MemorySessionRepository) Remove(ctx context.Context, sessionID, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entry(sessionID, false); e != nil {
		delete(e.dates, date)
	}
	return nil
}

func (r *MemorySessionRepository) Clear(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.selections, sessionID)
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemorySessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}
