package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/connectivity"

	"github.com/dmitrijs2005/rpcflow/logging"
)

// ErrManagerClosed is returned by every Manager operation once shutdown has
// been initiated.
var ErrManagerClosed = errors.New("channel manager closed")

// DefaultMaxIdlePerAddress caps how many idle connections are kept per
// resolved address.
const DefaultMaxIdlePerAddress = 4

// Manager lends out and reclaims transport connections per address. Idle
// lists are bounded; connections beyond the cap, and connections whose
// transport has shut down, are closed asynchronously in tracked background
// tasks that Close awaits.
type Manager struct {
	resolver Resolver
	dial     Dialer
	maxIdle  int
	log      logging.Logger

	mu         sync.Mutex
	idle       map[string][]*AddressChannel
	methodAddr map[string]string
	closed     bool

	sf singleflight.Group
	wg sync.WaitGroup
}

type ManagerOption func(*Manager)

// WithMaxIdlePerAddress sets the per-address idle cap.
func WithMaxIdlePerAddress(n int) ManagerOption {
	return func(m *Manager) { m.maxIdle = n }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(log logging.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func NewManager(resolver Resolver, dial Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		resolver:   resolver,
		dial:       dial,
		maxIdle:    DefaultMaxIdlePerAddress,
		log:        logging.NewNopLogger(),
		idle:       make(map[string][]*AddressChannel),
		methodAddr: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup resolves a method to an address, memoizing the answer so the
// resolver is consulted once per method. Concurrent first lookups of the
// same method share one resolver call.
func (m *Manager) Lookup(ctx context.Context, method string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	if addr, ok := m.methodAddr[method]; ok {
		m.mu.Unlock()
		return addr, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(method, func() (any, error) {
		addr, err := m.resolver.Resolve(ctx, method)
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.methodAddr[method] = addr
		m.mu.Unlock()
		return addr, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get returns a pooled idle connection for addr if a healthy one exists,
// otherwise dials a new one. Ownership of the returned channel transfers to
// the caller until it is returned or discarded.
func (m *Manager) Get(ctx context.Context, addr string) (*AddressChannel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	for {
		list := m.idle[addr]
		n := len(list)
		if n == 0 {
			break
		}
		ch := list[n-1]
		m.idle[addr] = list[:n-1]
		if ch.conn.GetState() == connectivity.Shutdown {
			m.asyncClose(ch)
			continue
		}
		m.mu.Unlock()
		return ch, nil
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	ch := &AddressChannel{Addr: addr, conn: conn}

	m.mu.Lock()
	if m.closed {
		m.asyncClose(ch)
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()
	return ch, nil
}

// Put makes a borrowed connection idle again. If the per-address idle list
// is full, or the transport has shut down, the connection is closed
// asynchronously instead.
func (m *Manager) Put(ch *AddressChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.asyncClose(ch)
		return ErrManagerClosed
	}
	if ch.conn.GetState() == connectivity.Shutdown {
		m.asyncClose(ch)
		return nil
	}
	if len(m.idle[ch.Addr]) >= m.maxIdle {
		m.asyncClose(ch)
		return nil
	}
	m.idle[ch.Addr] = append(m.idle[ch.Addr], ch)
	return nil
}

// Discard retires a borrowed connection without pooling it.
func (m *Manager) Discard(ch *AddressChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asyncClose(ch)
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// asyncClose schedules a tracked background close. Callers hold m.mu.
func (m *Manager) asyncClose(ch *AddressChannel) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := ch.conn.Close(); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn(context.Background(), "closing pooled connection failed", "addr", ch.Addr, "error", err)
		}
	}()
}

// Close stops accepting new work, asynchronously closes every idle
// connection, and awaits all tracked background closers within grace.
// Individual close failures are logged, never surfaced.
func (m *Manager) Close(grace time.Duration) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for addr, list := range m.idle {
		for _, ch := range list {
			m.asyncClose(ch)
		}
		delete(m.idle, addr)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.log.Warn(context.Background(), "channel manager close grace elapsed", "grace", grace)
	}
}

// IdleCount reports how many idle connections are pooled for addr.
func (m *Manager) IdleCount(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idle[addr])
}
