package llmprovider

import (
	"context"

	"github.com/fiscalclass/engine/pkg/ratelimit"
)

// LimitedClient wraps a Client with a per-actor rate limit, so one
// tenant's batch run cannot exhaust another's model quota (spec §5).
type LimitedClient struct {
	next    Client
	store   ratelimit.Store
	actorID string
	policy  ratelimit.Policy
}

func NewLimitedClient(next Client, store ratelimit.Store, actorID string, policy ratelimit.Policy) *LimitedClient {
	return &LimitedClient{next: next, store: store, actorID: actorID, policy: policy}
}

func (c *LimitedClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ratelimit.Check(ctx, c.store, c.actorID, c.policy); err != nil {
		return Response{}, err
	}
	return c.next.Generate(ctx, req)
}
