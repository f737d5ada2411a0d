// Package rpcflow is a resilient, authenticated RPC client runtime. It
// turns a logical service call into a network exchange over a pooled gRPC
// transport, retries transient failures within per-call budgets, and keeps
// bearer credentials fresh with a background renewal loop so callers are
// not blocked on token refreshes.
//
// The Client type wires the pieces together from a Config; the pool, call,
// token and credcache packages can also be used directly.
package rpcflow
