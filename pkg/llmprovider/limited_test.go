package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/ratelimit"
)

func TestLimitedClient_AllowsWithinBurst(t *testing.T) {
	store := ratelimit.NewInMemoryStore()
	c := NewLimitedClient(&fakeRouteClient{id: "fast"}, store, "tenant-1", ratelimit.Policy{RequestsPerMinute: 60, Burst: 1})

	_, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
}

func TestLimitedClient_RejectsOverBurst(t *testing.T) {
	store := ratelimit.NewInMemoryStore()
	c := NewLimitedClient(&fakeRouteClient{id: "fast"}, store, "tenant-1", ratelimit.Policy{RequestsPerMinute: 60, Burst: 1})

	_, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.Error(t, err)
}

func TestLimitedClient_SeparateActorsHaveIndependentBuckets(t *testing.T) {
	store := ratelimit.NewInMemoryStore()
	a := NewLimitedClient(&fakeRouteClient{id: "fast"}, store, "tenant-a", ratelimit.Policy{RequestsPerMinute: 60, Burst: 1})
	b := NewLimitedClient(&fakeRouteClient{id: "fast"}, store, "tenant-b", ratelimit.Policy{RequestsPerMinute: 60, Burst: 1})

	_, err := a.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	_, err = b.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
}
