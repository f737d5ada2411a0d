package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/rpcflow/internal/backoff"
	"github.com/dmitrijs2005/rpcflow/logging"
)

const (
	// DefaultSafetyMargin is the lead time before expiration at which a
	// token is treated as stale and proactively refreshed.
	DefaultSafetyMargin = time.Minute

	// DefaultRefreshFraction of the token's remaining lifetime elapses
	// before the background loop renews it.
	DefaultRefreshFraction = 0.9

	// DefaultRenewTimeout bounds a single renewal attempt.
	DefaultRenewTimeout = 30 * time.Second

	// DefaultRenewTrials is the per-chain retry budget of a renewable
	// receiver.
	DefaultRenewTrials = 3
)

// RenewableBearer wraps a source Bearer and maintains one shared,
// proactively refreshed token behind a background goroutine. Concurrent
// stale fetches share a single renewal; a synchronous renewal request
// preempts a pending background attempt, whose result is then ignored when
// it lands. Construct with NewRenewableBearer (process-local token) or
// NewCachedBearer (token persisted through a Store, surviving restarts).
type RenewableBearer struct {
	source       Bearer
	store        Store
	name         string
	margin       time.Duration
	fraction     float64
	renewTimeout time.Duration
	maxTrials    int
	syncMode     bool
	log          logging.Logger

	mu    sync.Mutex
	fresh chan struct{}

	renewCh  chan renewRequest
	results  chan attemptResult
	stopCh   chan struct{}
	stopOnce sync.Once
}

type renewRequest struct {
	timeout time.Duration
	// reply is non-nil for synchronous renewals: exactly one error (or
	// nil) is delivered for the attempt this request triggered.
	reply chan error
}

type attemptResult struct {
	gen uint64
	tok Token
	err error
}

type RenewableOption func(*RenewableBearer)

// WithSafetyMargin sets how early a not-yet-expired token is considered too
// stale to serve.
func WithSafetyMargin(d time.Duration) RenewableOption {
	return func(b *RenewableBearer) { b.margin = d }
}

// WithRefreshFraction sets the fraction of the token's remaining lifetime
// after which the background loop renews it.
func WithRefreshFraction(f float64) RenewableOption {
	return func(b *RenewableBearer) { b.fraction = f }
}

// WithRenewTimeout bounds a single renewal attempt.
func WithRenewTimeout(d time.Duration) RenewableOption {
	return func(b *RenewableBearer) { b.renewTimeout = d }
}

// WithRenewTrials sets the per-chain retry budget of receivers.
func WithRenewTrials(n int) RenewableOption {
	return func(b *RenewableBearer) { b.maxTrials = n }
}

// WithSyncRenewals makes every stale fetch request a dedicated renewal
// instead of sharing the background one.
func WithSyncRenewals() RenewableOption {
	return func(b *RenewableBearer) { b.syncMode = true }
}

// WithRenewLogger sets the logger for the background loop.
func WithRenewLogger(log logging.Logger) RenewableOption {
	return func(b *RenewableBearer) { b.log = log }
}

// NewRenewableBearer wraps source with a process-local renewed token.
func NewRenewableBearer(source Bearer, opts ...RenewableOption) *RenewableBearer {
	return newRenewable(source, newMemoryStore(), "", opts...)
}

// NewCachedBearer wraps source with a token persisted through store under
// the given credential name, so state survives process restarts.
func NewCachedBearer(source Bearer, store Store, name string, opts ...RenewableOption) *RenewableBearer {
	return newRenewable(source, store, name, opts...)
}

func newRenewable(source Bearer, store Store, name string, opts ...RenewableOption) *RenewableBearer {
	b := &RenewableBearer{
		source:       source,
		store:        store,
		name:         name,
		margin:       DefaultSafetyMargin,
		fraction:     DefaultRefreshFraction,
		renewTimeout: DefaultRenewTimeout,
		maxTrials:    DefaultRenewTrials,
		log:          logging.NewNopLogger(),
		fresh:        make(chan struct{}),
		renewCh:      make(chan renewRequest, 1),
		results:      make(chan attemptResult),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Stop shuts the background loop down and unblocks every current and
// future waiter. Fetches issued afterwards fail with ErrStopped.
func (b *RenewableBearer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *RenewableBearer) Receiver() Receiver {
	return &renewableReceiver{b: b}
}

// run is the single goroutine that owns renewal scheduling. Exactly one
// renewal attempt is active at a time; attempts are tagged with a
// generation so a preempted attempt's late result is recognized as stale
// and dropped.
func (b *RenewableBearer) run() {
	ctx := context.Background()

	var (
		gen      uint64
		inflight bool
		waiters  []chan error
		timer    *time.Timer
		timerC   <-chan time.Time
	)
	bo := backoff.New()

	schedule := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}

	start := func(timeout time.Duration) {
		gen++
		inflight = true
		timerC = nil
		b.startAttempt(gen, timeout)
	}

	// First run: renew immediately unless a fresh value already exists,
	// in which case sleep out its remaining safe lifetime.
	if tok, ok, err := b.store.Load(ctx, b.name); err == nil && ok && tok.FreshFor(time.Now(), b.margin) {
		schedule(b.refreshAfter(tok))
	} else {
		schedule(0)
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
			for _, w := range waiters {
				w <- ErrStopped
			}
			return

		case <-timerC:
			start(b.renewTimeout)

		case req := <-b.renewCh:
			if req.reply != nil {
				// A synchronous request preempts whatever attempt is
				// pending; the preempted result will arrive with an old
				// generation and be ignored.
				start(req.timeout)
				waiters = append(waiters, req.reply)
			} else if !inflight {
				start(b.renewTimeout)
			}

		case res := <-b.results:
			if res.gen != gen {
				b.log.Debug(ctx, "ignoring stale renewal result", "name", b.name)
				continue
			}
			inflight = false

			err := res.err
			if err == nil {
				err = b.store.Save(ctx, b.name, res.tok)
			}
			if err == nil {
				b.signalFresh()
				bo.Reset()
				schedule(b.refreshAfter(res.tok))
			} else {
				b.log.Warn(ctx, "token renewal failed", "name", b.name, "error", err)
				schedule(bo.Next())
			}
			for _, w := range waiters {
				w <- err
			}
			waiters = waiters[:0]
		}
	}
}

// refreshAfter computes how long the loop sleeps before renewing tok. A
// token without expiration is re-checked once a day.
func (b *RenewableBearer) refreshAfter(tok Token) time.Duration {
	ttl, ok := tok.TTL(time.Now())
	if !ok {
		return 24 * time.Hour
	}
	d := time.Duration(float64(ttl) * b.fraction)
	if d < 0 {
		d = 0
	}
	return d
}

// startAttempt runs one renewal chain against the source bearer in its own
// goroutine. The attempt is not force-cancelled on preemption; its result
// is simply dropped when its generation is stale.
func (b *RenewableBearer) startAttempt(gen uint64, timeout time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		r := b.source.Receiver()
		var (
			tok Token
			err error
		)
		for {
			tok, err = r.Fetch(ctx, FetchOptions{})
			if err == nil || !r.CanRetry(err, FetchOptions{}) {
				break
			}
		}

		select {
		case b.results <- attemptResult{gen: gen, tok: tok, err: err}:
		case <-b.stopCh:
		}
	}()
}

func (b *RenewableBearer) signalFresh() {
	b.mu.Lock()
	close(b.fresh)
	b.fresh = make(chan struct{})
	b.mu.Unlock()
}

func (b *RenewableBearer) freshSignal() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fresh
}

func (b *RenewableBearer) renewTimeoutFor(opts FetchOptions) time.Duration {
	if opts.RenewTimeout > 0 {
		return opts.RenewTimeout
	}
	return b.renewTimeout
}

func (b *RenewableBearer) loadFresh(ctx context.Context) (Token, bool) {
	tok, ok, err := b.store.Load(ctx, b.name)
	if err != nil || !ok {
		return Token{}, false
	}
	if !tok.FreshFor(time.Now(), b.margin) {
		return Token{}, false
	}
	return tok, true
}

// awaitFresh blocks until the store holds a fresh token, the context ends,
// or the bearer stops. Concurrent waiters share the same renewal.
func (b *RenewableBearer) awaitFresh(ctx context.Context) (Token, error) {
	for {
		ch := b.freshSignal()
		if tok, ok := b.loadFresh(ctx); ok {
			return tok, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-b.stopCh:
			return Token{}, ErrStopped
		}
	}
}

func (b *RenewableBearer) fetchAsync(ctx context.Context) (Token, error) {
	// Coalesce: if a request is already queued the loop will serve every
	// waiter from the same attempt.
	select {
	case b.renewCh <- renewRequest{}:
	default:
	}
	return b.awaitFresh(ctx)
}

func (b *RenewableBearer) fetchSync(ctx context.Context, opts FetchOptions) (Token, error) {
	reply := make(chan error, 1)
	req := renewRequest{timeout: b.renewTimeoutFor(opts), reply: reply}

	select {
	case b.renewCh <- req:
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case <-b.stopCh:
		return Token{}, ErrStopped
	}

	select {
	case err := <-reply:
		if err != nil {
			if opts.ReportRenewError {
				return Token{}, err
			}
			return b.awaitFresh(ctx)
		}
		tok, ok, lerr := b.store.Load(ctx, b.name)
		if lerr != nil {
			return Token{}, lerr
		}
		if !ok {
			return Token{}, ErrNoToken
		}
		return tok, nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case <-b.stopCh:
		return Token{}, ErrStopped
	}
}

type renewableReceiver struct {
	b      *RenewableBearer
	trials int
	served Token
}

func (r *renewableReceiver) Fetch(ctx context.Context, opts FetchOptions) (Token, error) {
	r.trials++

	// A repeat fetch on the same chain means the previous token was
	// rejected; evict it (unless someone already stored a newer one) and
	// do not serve it again.
	force := opts.ForceRenew || r.trials > 1
	if r.trials > 1 && !r.served.IsZero() {
		_ = r.b.store.Drop(ctx, r.b.name, r.served)
	}

	if !force {
		if tok, ok := r.b.loadFresh(ctx); ok {
			r.served = tok
			return tok, nil
		}
	}

	var (
		tok Token
		err error
	)
	if r.b.syncMode || opts.SyncRenew || force {
		tok, err = r.b.fetchSync(ctx, opts)
	} else {
		tok, err = r.b.fetchAsync(ctx)
	}
	if err == nil {
		r.served = tok
	}
	return tok, err
}

func (r *renewableReceiver) CanRetry(err error, opts FetchOptions) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		return false
	}
	max := r.b.maxTrials
	if opts.MaxRetries > 0 {
		max = opts.MaxRetries
	}
	return r.trials < max
}
