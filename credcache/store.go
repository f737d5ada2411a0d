package credcache

import (
	"context"

	"github.com/dmitrijs2005/rpcflow/token"
)

// Store adapts a Cache to the token.Store contract consumed by cached
// bearers.
type Store struct {
	c Cache
}

func NewStore(c Cache) *Store {
	return &Store{c: c}
}

func (s *Store) Load(ctx context.Context, name string) (token.Token, bool, error) {
	return s.c.Get(ctx, name)
}

func (s *Store) Save(ctx context.Context, name string, tok token.Token) error {
	return s.c.Set(ctx, name, tok)
}

func (s *Store) Drop(ctx context.Context, name string, tok token.Token) error {
	return s.c.RemoveIfEqual(ctx, name, tok)
}
