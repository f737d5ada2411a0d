package pool

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAddress is returned when a resolver has no address for a method.
var ErrNoAddress = errors.New("no address for method")

// Resolver maps a logical method name to a host:port address. Resolution
// itself is an external collaborator; the Manager memoizes its answers per
// method.
type Resolver interface {
	Resolve(ctx context.Context, method string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, method string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, method string) (string, error) {
	return f(ctx, method)
}

// StaticResolver serves addresses from a fixed per-method map with an
// optional fallback for unlisted methods.
type StaticResolver struct {
	methods  map[string]string
	fallback string
}

// NewStaticResolver resolves every method to the same address.
func NewStaticResolver(addr string) *StaticResolver {
	return &StaticResolver{fallback: addr}
}

// NewStaticMapResolver resolves per method, falling back to fallback for
// methods not in the map. An empty fallback makes unlisted methods fail.
func NewStaticMapResolver(methods map[string]string, fallback string) *StaticResolver {
	return &StaticResolver{methods: methods, fallback: fallback}
}

func (r *StaticResolver) Resolve(ctx context.Context, method string) (string, error) {
	if addr, ok := r.methods[method]; ok {
		return addr, nil
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoAddress, method)
}
