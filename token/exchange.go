package token

import (
	"context"
	"errors"
	"time"
)

// DefaultExchangeTrials is how many authentication attempts an exchange
// receiver allows per chain before giving up.
const DefaultExchangeTrials = 3

// Exchanger trades a long-lived credential for a short-lived token in one
// network exchange. Implementations are expected to route the exchange
// through the request executor with authorization disabled, so the exchange
// itself never recurses into authentication.
type Exchanger interface {
	Exchange(ctx context.Context) (Token, error)
}

// ExchangerFunc adapts a function to the Exchanger interface.
type ExchangerFunc func(ctx context.Context) (Token, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (Token, error) {
	return f(ctx)
}

// ExchangeBearer fetches a fresh token from its Exchanger on every fetch.
// It is usually wrapped in a RenewableBearer so the exchange runs in the
// background instead of on every request.
type ExchangeBearer struct {
	x         Exchanger
	maxTrials int
	timeout   time.Duration
}

type ExchangeOption func(*ExchangeBearer)

// WithExchangeTrials sets the default retry-trial budget per receiver.
func WithExchangeTrials(n int) ExchangeOption {
	return func(b *ExchangeBearer) { b.maxTrials = n }
}

// WithExchangeTimeout bounds a single exchange when the fetch context
// carries no deadline of its own.
func WithExchangeTimeout(d time.Duration) ExchangeOption {
	return func(b *ExchangeBearer) { b.timeout = d }
}

func NewExchangeBearer(x Exchanger, opts ...ExchangeOption) *ExchangeBearer {
	b := &ExchangeBearer{x: x, maxTrials: DefaultExchangeTrials}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ExchangeBearer) Receiver() Receiver {
	return &exchangeReceiver{b: b}
}

type exchangeReceiver struct {
	b      *ExchangeBearer
	trials int
}

func (r *exchangeReceiver) Fetch(ctx context.Context, opts FetchOptions) (Token, error) {
	r.trials++

	timeout := r.b.timeout
	if opts.RenewTimeout > 0 {
		timeout = opts.RenewTimeout
	}
	if timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	return r.b.x.Exchange(ctx)
}

func (r *exchangeReceiver) CanRetry(err error, opts FetchOptions) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	max := r.b.maxTrials
	if opts.MaxRetries > 0 {
		max = opts.MaxRetries
	}
	return r.trials < max
}
