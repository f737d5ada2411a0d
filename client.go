package rpcflow

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rpcflow/call"
	"github.com/dmitrijs2005/rpcflow/credcache"
	"github.com/dmitrijs2005/rpcflow/logging"
	"github.com/dmitrijs2005/rpcflow/pool"
	"github.com/dmitrijs2005/rpcflow/token"
)

// DefaultCloseGrace is how long Close waits for background teardown when
// the caller passes no explicit grace.
const DefaultCloseGrace = 5 * time.Second

// Client is the assembled runtime: resolver, connection pool, request
// executor and, when credentials are configured, a renewable bearer.
// Construct independent Clients per test or per target environment; there
// is no process-wide instance.
type Client struct {
	cfg    *Config
	pool   *pool.Manager
	exec   *call.Executor
	bearer *token.RenewableBearer
	log    logging.Logger
}

type ClientOption func(*clientSetup)

type clientSetup struct {
	log       logging.Logger
	dial      pool.Dialer
	bearer    token.Bearer
	exchanger token.Exchanger
}

// WithClientLogger sets the logger shared by all components.
func WithClientLogger(log logging.Logger) ClientOption {
	return func(s *clientSetup) { s.log = log }
}

// WithDialer replaces the stock gRPC dialer, e.g. to supply TLS transport
// credentials.
func WithDialer(d pool.Dialer) ClientOption {
	return func(s *clientSetup) { s.dial = d }
}

// WithStaticBearer authenticates every call with the given preset token.
func WithStaticBearer(tok token.Token) ClientOption {
	return func(s *clientSetup) { s.bearer = token.NewStaticBearer(tok) }
}

// WithExchanger builds the standard bearer chain around x: exchange →
// renewable, persisted through the credential cache when the Config names
// a credential file.
func WithExchanger(x token.Exchanger) ClientOption {
	return func(s *clientSetup) { s.exchanger = x }
}

// WithBearer installs a caller-constructed bearer as is.
func WithBearer(b token.Bearer) ClientOption {
	return func(s *clientSetup) { s.bearer = b }
}

// New assembles a Client from cfg. Without a bearer option, calls run
// unauthenticated.
func New(cfg *Config, opts ...ClientOption) (*Client, error) {
	s := &clientSetup{log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial = pool.GRPCDialer()
	}

	resolver := pool.NewStaticMapResolver(cfg.MethodEndpoints, cfg.Endpoint)
	mgr := pool.NewManager(resolver, s.dial,
		pool.WithMaxIdlePerAddress(cfg.MaxIdlePerAddress),
		pool.WithManagerLogger(s.log),
	)

	c := &Client{cfg: cfg, pool: mgr, log: s.log}

	bearer := s.bearer
	if s.exchanger != nil {
		source := token.NewExchangeBearer(s.exchanger)
		renewOpts := []token.RenewableOption{
			token.WithSafetyMargin(cfg.SafetyMargin),
			token.WithRenewLogger(s.log),
		}
		if cfg.CredentialFile != "" {
			file := credcache.NewFileCache(cfg.CredentialFile,
				credcache.WithLockTimeout(cfg.LockTimeout),
				credcache.WithLogger(s.log),
			)
			throttled := credcache.NewThrottled(file, credcache.WithThrottleWindow(cfg.ThrottleWindow))
			store := credcache.NewStore(throttled)
			c.bearer = token.NewCachedBearer(source, store, cfg.CredentialName, renewOpts...)
		} else {
			c.bearer = token.NewRenewableBearer(source, renewOpts...)
		}
		bearer = c.bearer
	}

	execOpts := []call.ExecutorOption{
		call.WithDefaults(cfg.callDefaults()),
		call.WithLogger(s.log),
	}
	if bearer != nil {
		execOpts = append(execOpts, call.WithBearer(bearer))
	}
	c.exec = call.NewExecutor(mgr, execOpts...)
	return c, nil
}

// Call issues one authenticated, retried RPC.
func (c *Client) Call(ctx context.Context, method string, args, reply any, opts ...call.Option) error {
	return c.exec.Call(ctx, method, args, reply, opts...)
}

// CallSync is the blocking adapter for callers without a context.
func (c *Client) CallSync(method string, args, reply any, opts ...call.Option) error {
	return c.exec.CallSync(method, args, reply, opts...)
}

// Executor exposes the underlying request executor.
func (c *Client) Executor() *call.Executor {
	return c.exec
}

// Poller builds an operation poller over this client's executor.
func (c *Client) Poller(opts ...call.PollerOption) *call.Poller {
	return call.NewPoller(c.exec, opts...)
}

// Close stops the renewal loop and shuts the connection pool down, waiting
// up to grace for background teardown. It never fails; teardown problems
// are logged.
func (c *Client) Close(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	if c.bearer != nil {
		c.bearer.Stop()
	}
	c.pool.Close(grace)
}
