package token

import (
	"context"
	"sync"
)

// memoryStore backs plain renewable bearers: one token, process-local.
type memoryStore struct {
	mu  sync.Mutex
	tok Token
	set bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) Load(ctx context.Context, name string) (Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Token{}, false, nil
	}
	return s.tok, true, nil
}

func (s *memoryStore) Save(ctx context.Context, name string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
	s.set = true
	return nil
}

func (s *memoryStore) Drop(ctx context.Context, name string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && s.tok.Equal(tok) {
		s.tok = Token{}
		s.set = false
	}
	return nil
}
