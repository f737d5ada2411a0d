package credcache

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/rpcflow/token"
)

// DefaultThrottleWindow is how long a Throttled cache trusts its in-memory
// copy before re-reading the backing cache.
const DefaultThrottleWindow = 5 * time.Minute

// Throttled wraps a Cache and serves reads from an in-memory copy for a
// configurable window, as long as that copy has not itself expired. Writes
// always go through to the backing cache and refresh the copy.
type Throttled struct {
	c      Cache
	window time.Duration

	mu      sync.Mutex
	entries map[string]throttleEntry
}

type throttleEntry struct {
	tok     token.Token
	present bool
	readAt  time.Time
}

type ThrottleOption func(*Throttled)

// WithThrottleWindow sets how long the in-memory copy is trusted.
func WithThrottleWindow(d time.Duration) ThrottleOption {
	return func(t *Throttled) { t.window = d }
}

func NewThrottled(c Cache, opts ...ThrottleOption) *Throttled {
	t := &Throttled{
		c:       c,
		window:  DefaultThrottleWindow,
		entries: make(map[string]throttleEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttled) Get(ctx context.Context, name string) (token.Token, bool, error) {
	now := time.Now()

	t.mu.Lock()
	e, ok := t.entries[name]
	t.mu.Unlock()

	if ok && now.Sub(e.readAt) < t.window {
		if !e.present {
			return token.Token{}, false, nil
		}
		if !e.tok.IsExpired(now) {
			return e.tok, true, nil
		}
		// The copy expired inside the window; fall through to the
		// backing cache.
	}

	tok, present, err := t.c.Get(ctx, name)
	if err != nil {
		return token.Token{}, false, err
	}

	t.mu.Lock()
	t.entries[name] = throttleEntry{tok: tok, present: present, readAt: now}
	t.mu.Unlock()

	return tok, present, nil
}

func (t *Throttled) Set(ctx context.Context, name string, tok token.Token) error {
	if err := t.c.Set(ctx, name, tok); err != nil {
		return err
	}
	t.remember(name, tok, true)
	return nil
}

func (t *Throttled) Remove(ctx context.Context, name string) error {
	if err := t.c.Remove(ctx, name); err != nil {
		return err
	}
	t.remember(name, token.Token{}, false)
	return nil
}

func (t *Throttled) RemoveIfEqual(ctx context.Context, name string, tok token.Token) error {
	if err := t.c.RemoveIfEqual(ctx, name, tok); err != nil {
		return err
	}
	t.forget(name)
	return nil
}

func (t *Throttled) remember(name string, tok token.Token, present bool) {
	t.mu.Lock()
	t.entries[name] = throttleEntry{tok: tok, present: present, readAt: time.Now()}
	t.mu.Unlock()
}

// forget drops the memo so the next read goes to the backing cache. Used
// after conditional removals, whose outcome is not known locally.
func (t *Throttled) forget(name string) {
	t.mu.Lock()
	delete(t.entries, name)
	t.mu.Unlock()
}
