package token

import "context"

// StaticBearer serves the same preset token forever. Authentication
// failures with a static token are never retryable: the next attempt would
// present the same credential.
type StaticBearer struct {
	tok Token
}

func NewStaticBearer(tok Token) *StaticBearer {
	return &StaticBearer{tok: tok}
}

func (b *StaticBearer) Receiver() Receiver {
	return staticReceiver{tok: b.tok}
}

type staticReceiver struct {
	tok Token
}

func (r staticReceiver) Fetch(ctx context.Context, opts FetchOptions) (Token, error) {
	if r.tok.IsZero() {
		return Token{}, ErrNoToken
	}
	return r.tok, nil
}

func (r staticReceiver) CanRetry(err error, opts FetchOptions) bool {
	return false
}
