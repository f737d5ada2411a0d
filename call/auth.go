package call

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/rpcflow/token"
)

// AuthorizationHeader is the metadata key carrying the credential. It is
// fully replaced on every authentication attempt, never appended to.
const AuthorizationHeader = "authorization"

// Authenticator populates call metadata with credentials and judges whether
// a rejected authentication attempt is worth retrying. One Authenticator
// serves one request's authentication attempt chain.
type Authenticator interface {
	Authenticate(ctx context.Context, md metadata.MD) (metadata.MD, error)
	CanRetry(err error) bool
}

// NewBearerAuth builds a per-request Authenticator from a bearer: it
// obtains one Receiver and presents fetched tokens as
// "Bearer <token>" authorization metadata.
func NewBearerAuth(b token.Bearer, opts AuthOptions) Authenticator {
	return &bearerAuth{r: b.Receiver(), opts: opts.fetchOptions()}
}

type bearerAuth struct {
	r    token.Receiver
	opts token.FetchOptions
}

func (a *bearerAuth) Authenticate(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	tok, err := a.r.Fetch(ctx, a.opts)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(AuthorizationHeader)
	md.Set(AuthorizationHeader, "Bearer "+tok.Secret)
	return md, nil
}

func (a *bearerAuth) CanRetry(err error) bool {
	return a.r.CanRetry(err, a.opts)
}
