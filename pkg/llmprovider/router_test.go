package llmprovider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouteClient struct {
	id string
}

func (c *fakeRouteClient) Generate(_ context.Context, _ Request) (Response, error) {
	return Response{ModelID: c.id}, nil
}

func TestRouter_ExplicitHintWins(t *testing.T) {
	r := NewRouter(&fakeRouteClient{id: "fast"}, &fakeRouteClient{id: "smart"})

	resp, err := r.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "determine the correct code"}}, ModelHint: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.ModelID)
}

func TestRouter_ComplexKeywordRoutesToSmart(t *testing.T) {
	r := NewRouter(&fakeRouteClient{id: "fast"}, &fakeRouteClient{id: "smart"})

	resp, err := r.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "no declared code, determine from scratch"}}})
	require.NoError(t, err)
	assert.Equal(t, "smart", resp.ModelID)
}

func TestRouter_LongTextRoutesToSmart(t *testing.T) {
	r := NewRouter(&fakeRouteClient{id: "fast"}, &fakeRouteClient{id: "smart"})

	resp, err := r.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: strings.Repeat("a", 401)}}})
	require.NoError(t, err)
	assert.Equal(t, "smart", resp.ModelID)
}

func TestRouter_ShortPlainTextRoutesToFast(t *testing.T) {
	r := NewRouter(&fakeRouteClient{id: "fast"}, &fakeRouteClient{id: "smart"})

	resp, err := r.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "validate this ncm"}}})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.ModelID)
}

func TestRouter_ErrorsWithNoMessages(t *testing.T) {
	r := NewRouter(&fakeRouteClient{id: "fast"}, &fakeRouteClient{id: "smart"})

	_, err := r.Generate(context.Background(), Request{})
	assert.Error(t, err)
}
