// Package pool implements the channel manager: it resolves logical methods
// to addresses, lends out transport connections per address, and reclaims
// or retires them, bounded by a per-address idle cap.
package pool

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn is the transport primitive the runtime invokes once per attempt.
// *grpc.ClientConn satisfies it.
type Conn interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
	GetState() connectivity.State
	Close() error
}

// Dialer opens a transport connection to a resolved address.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// GRPCDialer returns a Dialer backed by grpc.NewClient. Without options it
// dials insecurely; pass transport credentials for TLS (the trust material
// itself is loaded by the caller).
func GRPCDialer(opts ...grpc.DialOption) Dialer {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return func(ctx context.Context, addr string) (Conn, error) {
		return grpc.NewClient(addr, opts...)
	}
}

// GRPCTLSDialer is a convenience for the common TLS case.
func GRPCTLSDialer(creds credentials.TransportCredentials) Dialer {
	return GRPCDialer(grpc.WithTransportCredentials(creds))
}

// AddressChannel is a transport connection bound to a resolved address.
// While idle it is owned exclusively by the Manager; while borrowed, by a
// single in-flight request, which must either return or discard it (never
// both).
type AddressChannel struct {
	Addr string

	conn Conn
}

// Invoke issues one attempt of method over the underlying connection.
func (ch *AddressChannel) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	return ch.conn.Invoke(ctx, method, args, reply, opts...)
}
