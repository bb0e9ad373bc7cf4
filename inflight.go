package spendauth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Actions guarded by InFlight.
const (
	ActionConnect           = "connect"
	ActionResolveSubAccount = "resolve_sub_account"
	ActionSign              = "sign"
	ActionRedeem            = "redeem"
	ActionSubmitBatch       = "submit_batch"
	ActionRevoke            = "revoke"
)

// InFlight rejects a second request for an action on an account while the first is
// still pending. Completed receipts are kept for ttl so callers can look up the outcome
// of an action that finished while they were waiting.
type InFlight struct {
	mu       sync.Mutex
	inFlight map[string]chan struct{}
	results  map[string]*Receipt
	expiry   map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewInFlight creates a guard that retains completed receipts for ttl.
// A zero ttl disables retention.
func NewInFlight(ttl time.Duration) *InFlight {
	return &InFlight{
		inFlight: make(map[string]chan struct{}),
		results:  make(map[string]*Receipt),
		expiry:   make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// ActionKey builds the guard key for an action on an account.
func ActionKey(action, account string) string {
	return action + ":" + strings.ToLower(account)
}

// Ticket is held by the request that owns an in-flight key.
type Ticket struct {
	key  string
	done chan struct{}
	g    *InFlight
	once sync.Once
}

// Key returns the guarded key.
func (t *Ticket) Key() string {
	return t.key
}

// Complete releases the key and records receipt as its outcome.
func (t *Ticket) Complete(receipt *Receipt) {
	t.once.Do(func() {
		t.g.release(t.key, receipt, t.done)
	})
}

// Release frees the key without recording an outcome. Safe to call after Complete.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.g.release(t.key, nil, t.done)
	})
}

// Acquire marks key as in flight. It fails with KindActionInFlight when another
// request holds the key; the caller must not contact any external service in that case.
func (g *InFlight) Acquire(key string) (*Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inFlight[key]; exists {
		return nil, NewError(KindActionInFlight, ReasonInFlight, "action already pending").
			WithDetail("key", key)
	}

	done := make(chan struct{})
	g.inFlight[key] = done
	return &Ticket{key: key, done: done, g: g}, nil
}

// Pending reports whether key is currently in flight.
func (g *InFlight) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}

// Wait blocks until key is no longer in flight and returns its recorded receipt, if any.
func (g *InFlight) Wait(ctx context.Context, key string) (*Receipt, error) {
	g.mu.Lock()
	done, ok := g.inFlight[key]
	g.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Result(key), nil
}

// Result returns the retained receipt for key, or nil.
func (g *InFlight) Result(key string) *Receipt {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, exists := g.expiry[key]
	if !exists {
		return nil
	}
	if g.now().After(expiry) {
		delete(g.results, key)
		delete(g.expiry, key)
		return nil
	}
	return g.results[key]
}

func (g *InFlight) release(key string, receipt *Receipt, done chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if receipt != nil && g.ttl > 0 {
		g.results[key] = receipt
		g.expiry[key] = g.now().Add(g.ttl)
	}
	delete(g.inFlight, key)
	close(done)

	g.cleanupExpiredLocked()
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (g *InFlight) cleanupExpiredLocked() {
	now := g.now()
	for key, expiry := range g.expiry {
		if now.After(expiry) {
			delete(g.results, key)
			delete(g.expiry, key)
		}
	}
}
