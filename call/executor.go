package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/rpcflow/logging"
	"github.com/dmitrijs2005/rpcflow/pool"
	"github.com/dmitrijs2005/rpcflow/token"
)

// State tracks a request through its lifecycle.
type State int

const (
	StateInitialized State = iota
	StateSent
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateSent:
		return "sent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const (
	clientRequestIDHeader = "x-client-request-id"
	requestIDHeader       = "x-request-id"
	traceIDHeader         = "x-trace-id"
)

// request is the transient per-call object. It is mutated only by the
// executor driving it, and exactly one transport attempt is in flight for
// it at any instant.
type request struct {
	method   string
	state    State
	clientID string

	// Harvested from the transport's initial response metadata.
	requestID string
	traceID   string
}

func (r *request) stamp(e *Error) *Error {
	e.ClientRequestID = r.clientID
	if e.RequestID == "" {
		e.RequestID = r.requestID
	}
	if e.TraceID == "" {
		e.TraceID = r.traceID
	}
	return e
}

// Executor turns a logical call into a network exchange: an outer
// authorization loop (skipped when no bearer is configured) wrapping an
// inner transport retry loop over pooled connections.
type Executor struct {
	pool     *pool.Manager
	bearer   token.Bearer
	defaults Options
	log      logging.Logger
}

type ExecutorOption func(*Executor)

// WithBearer configures the credential source; without one, calls run
// unauthenticated.
func WithBearer(b token.Bearer) ExecutorOption {
	return func(e *Executor) { e.bearer = b }
}

// WithDefaults sets the executor-wide default call options.
func WithDefaults(o Options) ExecutorOption {
	return func(e *Executor) { e.defaults = o }
}

// WithLogger sets the executor logger.
func WithLogger(log logging.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

func NewExecutor(p *pool.Manager, opts ...ExecutorOption) *Executor {
	e := &Executor{pool: p, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call issues method with args, decoding the response into reply. It blocks
// until a result, a terminal failure, or cancellation. The returned error
// is an *Error except when a caller-supplied transform fails.
func (e *Executor) Call(ctx context.Context, method string, args, reply any, opts ...Option) error {
	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	o.applyDefaults()

	r := &request{method: method, state: StateInitialized, clientID: uuid.NewString()}
	md := metadata.MD{}
	md.Set(clientRequestIDHeader, r.clientID)

	if e.bearer == nil {
		return e.transportLoop(ctx, r, md, &o, args, reply)
	}

	authCtx, cancel := context.WithTimeout(ctx, o.AuthTimeout)
	defer cancel()

	auth := NewBearerAuth(e.bearer, o.Auth)
	for {
		callMD, err := auth.Authenticate(authCtx, md)
		if err != nil {
			r.state = StateFailed
			return r.stamp(&Error{Code: codes.Unauthenticated, Message: err.Error(), cause: err})
		}

		err = e.transportLoop(ctx, r, callMD, &o, args, reply)
		if err == nil {
			return nil
		}
		// Only a rejected credential restarts authentication, and only
		// while the receiver still has trials and the auth budget holds.
		if !IsUnauthenticated(err) || authCtx.Err() != nil || !auth.CanRetry(err) {
			return err
		}
		e.log.Debug(ctx, "re-authenticating after rejected credentials",
			"method", method, "client_request_id", r.clientID)
	}
}

// transportLoop borrows a channel per attempt and issues exactly one
// transport attempt at a time, retrying within the overall, per-attempt,
// and retry-count budgets.
func (e *Executor) transportLoop(ctx context.Context, r *request, md metadata.MD, o *Options, args, reply any) error {
	loopCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	deadline, _ := loopCtx.Deadline()

	var lastErr *Error
	for attempt := 0; attempt < o.Retries; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		addr, err := e.pool.Lookup(loopCtx, r.method)
		if err != nil {
			cerr, fatal := e.localFailure(r, err)
			if fatal {
				return cerr
			}
			lastErr = cerr
			continue
		}

		ch, err := e.pool.Get(loopCtx, addr)
		if err != nil {
			cerr, fatal := e.localFailure(r, err)
			if fatal {
				return cerr
			}
			lastErr = cerr
			continue
		}

		attemptTimeout := o.AttemptTimeout
		if attemptTimeout > remaining {
			attemptTimeout = remaining
		}
		attemptCtx, attemptCancel := context.WithTimeout(metadata.NewOutgoingContext(loopCtx, md), attemptTimeout)

		var header metadata.MD
		r.state = StateSent
		err = ch.Invoke(attemptCtx, r.method, args, reply, grpc.Header(&header))
		attemptCancel()

		if ids := header.Get(requestIDHeader); len(ids) > 0 {
			r.requestID = ids[0]
		}
		if ids := header.Get(traceIDHeader); len(ids) > 0 {
			r.traceID = ids[0]
		}

		if err == nil {
			_ = e.pool.Put(ch)
			if o.Transform != nil {
				if terr := o.Transform(reply); terr != nil {
					r.state = StateFailed
					return terr
				}
			}
			r.state = StateCompleted
			return nil
		}

		// Caller cancellation propagates immediately and retires the
		// borrowed connection.
		if errors.Is(ctx.Err(), context.Canceled) || status.Code(err) == codes.Canceled {
			_ = e.pool.Discard(ch)
			r.state = StateCancelled
			return r.stamp(classify(err, true))
		}

		cerr := r.stamp(classify(err, true))
		if cerr.RequestID == "" && cerr.TraceID == "" {
			// No diagnostics from the server: the connection itself is
			// suspect.
			_ = e.pool.Discard(ch)
		} else {
			_ = e.pool.Put(ch)
		}

		lastErr = cerr
		if !cerr.Retriable {
			break
		}
		e.log.Debug(ctx, "retrying after transient failure",
			"method", r.method, "attempt", attempt+1, "code", cerr.Code.String())
	}

	r.state = StateFailed
	if lastErr == nil {
		lastErr = budgetExhausted(r.clientID, r.requestID, r.traceID)
	}
	return lastErr
}

// localFailure classifies an error raised before any transport attempt.
// fatal failures (manager shut down) abort the loop.
func (e *Executor) localFailure(r *request, err error) (cerr *Error, fatal bool) {
	if errors.Is(err, pool.ErrManagerClosed) {
		r.state = StateFailed
		return r.stamp(&Error{Code: codes.FailedPrecondition, Message: err.Error(), cause: err}), true
	}
	return r.stamp(classify(err, true)), false
}
