package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

/*************
 * Scripted exchanger: one entry per expected exchange
 *************/

type scriptedExchanger struct {
	mu     sync.Mutex
	calls  int
	script []func(ctx context.Context) (Token, error)
}

func (s *scriptedExchanger) Exchange(ctx context.Context) (Token, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	if n >= len(s.script) {
		last := s.script[len(s.script)-1]
		return last(ctx)
	}
	return s.script[n](ctx)
}

func (s *scriptedExchanger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func exchangeOK(tok Token) func(ctx context.Context) (Token, error) {
	return func(ctx context.Context) (Token, error) { return tok, nil }
}

func exchangeAfter(d time.Duration, tok Token) func(ctx context.Context) (Token, error) {
	return func(ctx context.Context) (Token, error) {
		select {
		case <-time.After(d):
			return tok, nil
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
}

func hourToken(secret string) Token {
	return NewWithExpiry(secret, time.Now().Add(time.Hour))
}

func TestRenewableBearer_ConcurrentFetchesShareOneExchange(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		exchangeAfter(50*time.Millisecond, hourToken("shared")),
	}}
	b := NewRenewableBearer(NewExchangeBearer(x))
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]Token, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Receiver().Fetch(ctx, FetchOptions{})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, "shared", results[0].Secret)
	require.True(t, results[0].Equal(results[1]))
	require.Equal(t, 1, x.callCount(), "both callers must share one network exchange")
}

func TestRenewableBearer_SyncRenewalPreemptsBackground(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		// Background attempt, started at construction: slow.
		exchangeAfter(300*time.Millisecond, hourToken("stale")),
		// Synchronous attempt: fast.
		exchangeOK(hourToken("wanted")),
	}}
	b := NewRenewableBearer(NewExchangeBearer(x))
	defer b.Stop()

	// Let the background attempt get underway first.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := b.Receiver().Fetch(ctx, FetchOptions{SyncRenew: true})
	require.NoError(t, err)
	require.Equal(t, "wanted", got.Secret, "sync caller gets its own attempt's result")

	// When the abandoned background attempt lands, its token must be
	// ignored, not installed over the newer one.
	time.Sleep(400 * time.Millisecond)
	again, err := b.Receiver().Fetch(ctx, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, "wanted", again.Secret)
}

func TestRenewableBearer_StopUnblocksWaiters(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		exchangeAfter(time.Hour, hourToken("never")),
	}}
	b := NewRenewableBearer(NewExchangeBearer(x))

	done := make(chan error, 1)
	go func() {
		_, err := b.Receiver().Fetch(context.Background(), FetchOptions{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	b.Stop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by Stop")
	}

	// Fetches after Stop must not hang either.
	_, err := b.Receiver().Fetch(context.Background(), FetchOptions{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestRenewableBearer_ReportRenewError(t *testing.T) {
	renewErr := errors.New("exchange rejected")
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		func(ctx context.Context) (Token, error) { return Token{}, renewErr },
	}}
	b := NewRenewableBearer(NewExchangeBearer(x, WithExchangeTrials(1)))
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := b.Receiver().Fetch(ctx, FetchOptions{SyncRenew: true, ReportRenewError: true})
	require.ErrorIs(t, err, renewErr)
}

func TestCachedBearer_ServesPersistedTokenWithoutExchange(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		exchangeOK(hourToken("network")),
	}}
	store := newMemoryStore()
	persisted := hourToken("persisted")
	require.NoError(t, store.Save(context.Background(), "svc-a", persisted))

	b := NewCachedBearer(NewExchangeBearer(x), store, "svc-a")
	defer b.Stop()

	got, err := b.Receiver().Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.True(t, got.Equal(persisted))
	require.Equal(t, 0, x.callCount(), "fresh persisted token must not trigger an exchange")
}

func TestRenewableReceiver_RejectedTokenIsDroppedAndRenewed(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		exchangeOK(hourToken("second")),
	}}
	store := newMemoryStore()
	first := hourToken("first")
	require.NoError(t, store.Save(context.Background(), "svc-a", first))

	b := NewCachedBearer(NewExchangeBearer(x), store, "svc-a")
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r := b.Receiver()
	got, err := r.Fetch(ctx, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, "first", got.Secret)

	// The server rejected the first token; the same chain must evict it
	// and fetch a fresh one.
	require.True(t, r.CanRetry(errors.New("unauthenticated"), FetchOptions{}))
	got, err = r.Fetch(ctx, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, "second", got.Secret)

	stored, ok, err := store.Load(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", stored.Secret)
}

func TestRenewableBearer_ForceRenewSkipsFreshToken(t *testing.T) {
	x := &scriptedExchanger{script: []func(ctx context.Context) (Token, error){
		exchangeOK(hourToken("renewed")),
	}}
	store := newMemoryStore()
	require.NoError(t, store.Save(context.Background(), "", hourToken("cached")))

	b := NewCachedBearer(NewExchangeBearer(x), store, "")
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := b.Receiver().Fetch(ctx, FetchOptions{ForceRenew: true})
	require.NoError(t, err)
	require.Equal(t, "renewed", got.Secret)
	require.Equal(t, 1, x.callCount())
}
