package call

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPollInterval between successive polls of a long-running
	// operation.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout bounds the whole polling session.
	DefaultPollTimeout = 10 * time.Minute
)

// ErrPollTimeout is returned when an operation did not reach a terminal
// state within the polling budget.
var ErrPollTimeout = errors.New("operation polling timed out")

// Poller is a thin convenience over the Executor for long-running,
// server-tracked tasks: it re-issues a status call until the caller's
// predicate reports a terminal state or the polling budget runs out.
type Poller struct {
	exec     *Executor
	interval time.Duration
	timeout  time.Duration
}

type PollerOption func(*Poller)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollTimeout bounds the whole polling session.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

func NewPoller(exec *Executor, opts ...PollerOption) *Poller {
	p := &Poller{exec: exec, interval: DefaultPollInterval, timeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls method with args until done reports a terminal state. A fresh
// reply is allocated per poll via newReply; the final reply is returned.
// Call failures abort polling immediately.
func (p *Poller) Await(ctx context.Context, method string, args any, newReply func() any,
	done func(reply any) (bool, error), opts ...Option) (any, error) {

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	for {
		reply := newReply()
		if err := p.exec.Call(ctx, method, args, reply, opts...); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrPollTimeout, method)
			}
			return nil, err
		}

		terminal, err := done(reply)
		if err != nil {
			return nil, err
		}
		if terminal {
			return reply, nil
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrPollTimeout, method)
			}
			return nil, ctx.Err()
		}
	}
}
