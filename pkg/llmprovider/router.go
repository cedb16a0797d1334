package llmprovider

import (
	"context"
	"fmt"
	"strings"
)

// Router picks between a fast (local) and a smart (remote) Client. Agents
// express a preference via Request.ModelHint ("fast"/"smart"); an empty
// hint falls back to the same complexity heuristic the teacher uses for
// its general-purpose chat router (spec §4.3: "model selection per agent
// is configurable, not hardcoded").
type Router struct {
	fast  Client
	smart Client
}

func NewRouter(fast, smart Client) *Router {
	return &Router{fast: fast, smart: smart}
}

func (r *Router) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("llmprovider: router: request has no messages")
	}

	switch req.ModelHint {
	case "fast":
		return r.fast.Generate(ctx, req)
	case "smart":
		return r.smart.Generate(ctx, req)
	}

	if r.isComplex(req.Messages[len(req.Messages)-1].Content) {
		return r.smart.Generate(ctx, req)
	}
	return r.fast.Generate(ctx, req)
}

func (r *Router) isComplex(text string) bool {
	keywords := []string{"determine", "reconcile", "classify from scratch", "no declared code", "ambiguous"}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return len(text) > 400
}
