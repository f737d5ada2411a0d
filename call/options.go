// Package call implements the request executor: an authorization retry
// loop wrapping a transport retry loop, with the connection pool supplying
// transports and a bearer's receiver supplying credentials.
package call

import (
	"time"

	"github.com/dmitrijs2005/rpcflow/token"
)

const (
	// DefaultTimeout bounds one request across all transport attempts.
	DefaultTimeout = 60 * time.Second

	// DefaultAuthTimeout bounds the outer authorization loop.
	DefaultAuthTimeout = 15 * time.Minute

	// DefaultRetries is the maximum number of transport attempts per
	// request.
	DefaultRetries = 3

	// SyncGrace is added to a blocking caller's budget so internal
	// teardown finishes before a timeout is declared.
	SyncGrace = 200 * time.Millisecond
)

// AuthOptions tune the authorization side of a single call. They map onto
// token.FetchOptions for the request's receiver.
type AuthOptions struct {
	ForceRenew       bool
	SyncRenew        bool
	ReportRenewError bool
	RenewTimeout     time.Duration
	MaxRetries       int
}

func (a AuthOptions) fetchOptions() token.FetchOptions {
	return token.FetchOptions{
		ForceRenew:       a.ForceRenew,
		SyncRenew:        a.SyncRenew,
		ReportRenewError: a.ReportRenewError,
		RenewTimeout:     a.RenewTimeout,
		MaxRetries:       a.MaxRetries,
	}
}

// Options is the caller-facing configuration surface of one request.
type Options struct {
	// Timeout bounds the whole transport loop. Default 60s.
	Timeout time.Duration

	// AttemptTimeout bounds a single transport attempt. Default is a
	// third of Timeout, and it is always clipped by the remaining
	// overall budget.
	AttemptTimeout time.Duration

	// Retries is the maximum number of transport attempts. Default 3.
	Retries int

	// AuthTimeout bounds the outer authorization loop. Default 15m.
	AuthTimeout time.Duration

	// Auth tunes credential fetching for this call.
	Auth AuthOptions

	// Transform, when set, post-processes the decoded reply before the
	// call returns.
	Transform func(reply any) error
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = o.Timeout / 3
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
}

type Option func(*Options)

// WithTimeout sets the overall per-request budget.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithAttemptTimeout sets the per-attempt budget.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Options) { o.AttemptTimeout = d }
}

// WithRetries sets the maximum number of transport attempts.
func WithRetries(n int) Option {
	return func(o *Options) { o.Retries = n }
}

// WithAuthTimeout sets the authorization loop budget.
func WithAuthTimeout(d time.Duration) Option {
	return func(o *Options) { o.AuthTimeout = d }
}

// WithAuthOptions sets the per-call authorization options.
func WithAuthOptions(a AuthOptions) Option {
	return func(o *Options) { o.Auth = a }
}

// WithTransform sets a result transform applied to the decoded reply.
func WithTransform(fn func(reply any) error) Option {
	return func(o *Options) { o.Transform = fn }
}
