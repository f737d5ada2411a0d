package call

import (
	"context"
)

// CallSync is the blocking adapter for callers that do not manage a
// context. It derives the budget from the call options and adds a fixed
// grace period so the executor's own timeouts fire first, with their
// diagnostics, before the outer deadline would.
func (e *Executor) CallSync(method string, args, reply any, opts ...Option) error {
	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	o.applyDefaults()

	budget := o.Timeout
	if e.bearer != nil && o.AuthTimeout > budget {
		budget = o.AuthTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), budget+SyncGrace)
	defer cancel()

	return e.Call(ctx, method, args, reply, opts...)
}
