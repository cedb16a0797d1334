package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Toolbox composes the four retrieval modes behind one entry point and
// fuses their results (spec §4.2). It is the only thing agents hold a
// reference to; they never call a Source directly.
type Toolbox struct {
	weights        Weights
	sources        map[Mode]Source
	perModeTimeout time.Duration
}

// NewToolbox wires a set of mode implementations under fixed fusion
// weights. Missing modes are simply skipped when requested. perModeTimeout
// bounds each mode's Run call (spec §4.2: "total latency bounded by
// per-mode timeouts"); zero disables the bound, matching prior behaviour.
func NewToolbox(weights Weights, perModeTimeout time.Duration, sources ...Source) *Toolbox {
	t := &Toolbox{weights: weights, sources: map[Mode]Source{}, perModeTimeout: perModeTimeout}
	for _, s := range sources {
		t.sources[s.Mode()] = s
	}
	return t
}

// Retrieve runs q concurrently across modes, short-circuiting to the
// golden-set result alone when it produces a hit above goldenShortCircuit
// (spec §4.2: "a golden-set match takes priority over the other three
// modes"). Otherwise every requested mode's evidence is fused into one
// ranked list capped at q.TopK. A mode that misses its per-mode deadline
// is dropped rather than failing the call; the returned bool reports
// that the result set is partial (spec §4.2: "partial results returned
// on timeout with a degraded flag").
func (t *Toolbox) Retrieve(ctx context.Context, q Query, modes []Mode, goldenShortCircuit float64) ([]Evidence, bool, error) {
	degraded := false

	if golden, ok := t.sources[ModeGolden]; ok && containsMode(modes, ModeGolden) {
		gctx, cancel := t.boundContext(ctx)
		hits, err := golden.Run(gctx, q)
		cancel()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			degraded = true
		case err != nil:
			if rerr, ok := err.(*Error); ok && !rerr.Transient {
				return nil, degraded, err
			}
			// transient golden-set failure: fall through to the other modes
		case len(hits) > 0 && hits[0].Score >= goldenShortCircuit:
			return capEvidence(hits, q.TopK), degraded, nil
		}
	}

	type result struct {
		mode Mode
		ev   []Evidence
		err  error
	}
	results := make(chan result, len(modes))
	var wg sync.WaitGroup
	for _, m := range modes {
		src, ok := t.sources[m]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(m Mode, src Source) {
			defer wg.Done()
			mctx, cancel := t.boundContext(ctx)
			defer cancel()
			ev, err := src.Run(mctx, q)
			results <- result{mode: m, ev: ev, err: err}
		}(m, src)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	perMode := map[Mode][]Evidence{}
	var firstPermanent error
	for r := range results {
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				degraded = true
				continue
			}
			if rerr, ok := r.err.(*Error); ok && !rerr.Transient && firstPermanent == nil {
				firstPermanent = rerr
			}
			continue
		}
		perMode[r.mode] = r.ev
	}
	if firstPermanent != nil {
		return nil, degraded, firstPermanent
	}

	fused := fuse(t.weights, perMode)
	out := capEvidence(fused, q.TopK)
	if degraded {
		for i := range out {
			out[i].Degraded = true
		}
	}
	return out, degraded, nil
}

// boundContext applies perModeTimeout to ctx, or returns ctx unbounded
// when no timeout is configured.
func (t *Toolbox) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.perModeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.perModeTimeout)
}

func containsMode(modes []Mode, m Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

func capEvidence(ev []Evidence, topK int) []Evidence {
	if topK > 0 && len(ev) > topK {
		return ev[:topK]
	}
	return ev
}
