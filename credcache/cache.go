// Package credcache implements persistent credential caches keyed by
// credential name. The file-backed cache serializes cross-process access
// with a polling file lock; the throttle wrapper trusts an in-memory copy
// for a configurable window to avoid redundant disk reads.
package credcache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/rpcflow/logging"
	"github.com/dmitrijs2005/rpcflow/token"
)

var (
	// ErrLockTimeout is returned when the exclusive file lock could not
	// be acquired within the configured timeout.
	ErrLockTimeout = errors.New("credential cache lock timeout")
)

// Cache is the credential cache contract: name → token, with an equality
// guarded removal for safe invalidation.
type Cache interface {
	Get(ctx context.Context, name string) (token.Token, bool, error)
	Set(ctx context.Context, name string, tok token.Token) error
	Remove(ctx context.Context, name string) error
	RemoveIfEqual(ctx context.Context, name string, tok token.Token) error
}

// record is the on-disk (and on-wire, for redis) form of one credential.
// ExpiresAt is a POSIX timestamp in seconds; absent means never expires.
type record struct {
	Secret    string `json:"secret"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

type document map[string]record

func recordFromToken(tok token.Token) record {
	r := record{Secret: tok.Secret}
	if tok.ExpiresAt != nil {
		ts := tok.ExpiresAt.Unix()
		r.ExpiresAt = &ts
	}
	return r
}

func (r record) token() token.Token {
	if r.ExpiresAt == nil {
		return token.New(r.Secret)
	}
	return token.NewWithExpiry(r.Secret, time.Unix(*r.ExpiresAt, 0))
}

const (
	// DefaultLockTimeout bounds the polling acquisition of the file lock.
	DefaultLockTimeout = 5 * time.Second

	defaultLockPoll = 50 * time.Millisecond
)

// FileCache stores credentials in a single JSON document of the form
// {name: {secret, expires_at}}. Every mutation takes the exclusive file
// lock around a read-modify-write of the whole document; already-expired
// tokens are pruned on every write. A missing or unreadable document reads
// as empty, never as an error.
type FileCache struct {
	path        string
	lockTimeout time.Duration
	lockPoll    time.Duration
	log         logging.Logger
}

type FileOption func(*FileCache)

// WithLockTimeout sets how long mutations wait for the file lock.
func WithLockTimeout(d time.Duration) FileOption {
	return func(c *FileCache) { c.lockTimeout = d }
}

// WithLogger sets the cache logger.
func WithLogger(log logging.Logger) FileOption {
	return func(c *FileCache) { c.log = log }
}

func NewFileCache(path string, opts ...FileOption) *FileCache {
	c := &FileCache{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		lockPoll:    defaultLockPoll,
		log:         logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FileCache) Get(ctx context.Context, name string) (token.Token, bool, error) {
	doc := c.readDocument(ctx)
	rec, ok := doc[name]
	if !ok {
		return token.Token{}, false, nil
	}
	tok := rec.token()
	if tok.IsExpired(time.Now()) {
		return token.Token{}, false, nil
	}
	return tok, true, nil
}

func (c *FileCache) Set(ctx context.Context, name string, tok token.Token) error {
	return c.withLock(ctx, func() error {
		doc := c.readDocument(ctx)
		doc[name] = recordFromToken(tok)
		return c.writeDocument(doc)
	})
}

func (c *FileCache) Remove(ctx context.Context, name string) error {
	return c.withLock(ctx, func() error {
		doc := c.readDocument(ctx)
		delete(doc, name)
		return c.writeDocument(doc)
	})
}

// RemoveIfEqual removes the stored token only if it still equals tok, so a
// concurrent writer's fresher token is never discarded.
func (c *FileCache) RemoveIfEqual(ctx context.Context, name string, tok token.Token) error {
	return c.withLock(ctx, func() error {
		doc := c.readDocument(ctx)
		rec, ok := doc[name]
		if !ok || !rec.token().Equal(tok) {
			return nil
		}
		delete(doc, name)
		return c.writeDocument(doc)
	})
}

// readDocument never fails: a missing or corrupt file is an empty cache.
func (c *FileCache) readDocument(ctx context.Context) document {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn(ctx, "credential cache unreadable, treating as empty", "path", c.path, "error", err)
		}
		return document{}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.log.Warn(ctx, "credential cache invalid, treating as empty", "path", c.path, "error", err)
		return document{}
	}
	if doc == nil {
		doc = document{}
	}
	return doc
}

// writeDocument prunes expired records and replaces the file atomically.
func (c *FileCache) writeDocument(doc document) error {
	now := time.Now()
	for name, rec := range doc {
		if rec.token().IsExpired(now) {
			delete(doc, name)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
