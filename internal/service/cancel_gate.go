package service

import (
	"sync"
	"time"
)

const DefaultCancelConfirmTTL = time.Minute

// CancelGate arms a destructive action on the first request and lets it through on the second.
type CancelGate struct {
	mu    sync.Mutex
	ttl   time.Duration
	armed map[string]time.Time
	now   func() time.Time
}

func NewCancelGate(ttl time.Duration) *CancelGate {
	if ttl <= 0 {
		ttl = DefaultCancelConfirmTTL
	}
	return &CancelGate{
		ttl:   ttl,
		armed: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Confirm reports whether key was armed within the TTL, disarming it. Otherwise it arms key.
func (g *CancelGate) Confirm(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, at := range g.armed {
		if now.Sub(at) > g.ttl {
			delete(g.armed, k)
		}
	}
	if _, ok := g.armed[key]; ok {
		delete(g.armed, key)
		return true
	}
	g.armed[key] = now
	return false
}

// Disarm forgets a pending confirmation.
func (g *CancelGate) Disarm(key string) {
	g.mu.Lock()
	delete(g.armed, key)
	g.mu.Unlock()
}
