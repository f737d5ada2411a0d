package credcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/rpcflow/token"
)

// removeIfEqualScript deletes the key only when its current value matches,
// so a concurrent writer's fresher token survives.
var removeIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache stores credentials in redis, one key per credential name, with
// the key TTL derived from the token expiry. Meant for deployments where
// independent processes share a network cache instead of a file.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisCache)

// WithKeyPrefix sets the key namespace, default "rpcflow:cred:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

func NewRedisCache(rdb redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: "rpcflow:cred:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(name string) string {
	return c.prefix + name
}

func (c *RedisCache) Get(ctx context.Context, name string) (token.Token, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return token.Token{}, false, nil
		}
		return token.Token{}, false, fmt.Errorf("redis get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable entries behave like missing ones.
		return token.Token{}, false, nil
	}

	tok := rec.token()
	if tok.IsExpired(time.Now()) {
		return token.Token{}, false, nil
	}
	return tok, true, nil
}

func (c *RedisCache) Set(ctx context.Context, name string, tok token.Token) error {
	ttl := time.Duration(0)
	if remaining, ok := tok.TTL(time.Now()); ok {
		if remaining <= 0 {
			// Expired tokens are dropped, never stored.
			return c.Remove(ctx, name)
		}
		ttl = remaining
	}

	data, err := json.Marshal(recordFromToken(tok))
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.key(name), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Remove(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, c.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) RemoveIfEqual(ctx context.Context, name string, tok token.Token) error {
	data, err := json.Marshal(recordFromToken(tok))
	if err != nil {
		return err
	}
	if err := removeIfEqualScript.Run(ctx, c.rdb, []string{c.key(name)}, string(data)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis remove-if-equal: %w", err)
	}
	return nil
}
