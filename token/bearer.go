package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStopped is returned by fetches issued after the bearer's
	// background loop has been stopped.
	ErrStopped = errors.New("bearer stopped")

	// ErrNoToken is returned when no token is available and renewal is
	// not possible.
	ErrNoToken = errors.New("no token available")
)

// FetchOptions tune a single Receiver.Fetch. The zero value means: serve the
// cached token if fresh, renew asynchronously otherwise, use the bearer's
// defaults for timeouts and retry counts.
type FetchOptions struct {
	// ForceRenew skips the cached token even if it is still fresh.
	ForceRenew bool

	// SyncRenew requests a dedicated renewal attempt and awaits exactly
	// its result instead of sharing the background renewal.
	SyncRenew bool

	// ReportRenewError returns a synchronous renewal's error verbatim
	// instead of falling back to waiting for a fresh token.
	ReportRenewError bool

	// RenewTimeout overrides the bearer's per-renewal timeout.
	RenewTimeout time.Duration

	// MaxRetries overrides the receiver's retry-trial budget.
	MaxRetries int
}

// Receiver fetches one token per logical request and judges whether a
// failed authentication attempt is worth retrying. A Receiver is single-use
// per authentication attempt chain: it carries the trial counter for that
// chain and must not be shared across unrelated requests.
type Receiver interface {
	Fetch(ctx context.Context, opts FetchOptions) (Token, error)
	CanRetry(err error, opts FetchOptions) bool
}

// Bearer is a long-lived factory of per-request Receivers.
type Bearer interface {
	Receiver() Receiver
}

// Store persists tokens by credential name. Implementations live in the
// credcache package; the in-memory store below backs plain renewable
// bearers.
type Store interface {
	// Load returns the stored token, reporting whether one was present.
	Load(ctx context.Context, name string) (Token, bool, error)

	// Save stores the token under name.
	Save(ctx context.Context, name string, tok Token) error

	// Drop removes the stored token, but only if it still equals tok.
	Drop(ctx context.Context, name string, tok Token) error
}
