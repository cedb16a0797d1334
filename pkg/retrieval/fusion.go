package retrieval

import "sort"

// Weights are the per-mode contributions to a fused score (spec §4.2):
//
//	score = w_dense*s_dense + w_sparse*s_sparse + w_rule*s_rule + w_golden*s_golden
type Weights struct {
	Dense  float64
	Sparse float64
	Rule   float64
	Golden float64
}

// fuse merges per-mode Evidence lists keyed by SourceLocator, summing
// each contributor's raw score into the matching ScoreComponents field,
// then ranks the merged set with Weights and the tie-break rule: higher
// fused score first; ties broken by the more specific ncm_pattern level
// (8 > 6 > 4 > 2); remaining ties broken by the most recent
// ValidityStart.
func fuse(w Weights, perMode map[Mode][]Evidence) []Evidence {
	merged := map[string]*Evidence{}
	order := make([]string, 0)

	add := func(mode Mode, e Evidence) {
		existing, ok := merged[e.SourceLocator]
		if !ok {
			cp := e
			cp.ScoreComponents = ScoreComponents{}
			merged[e.SourceLocator] = &cp
			order = append(order, e.SourceLocator)
			existing = merged[e.SourceLocator]
		}
		switch mode {
		case ModeDense:
			existing.ScoreComponents.Dense += e.Score
		case ModeSparse:
			existing.ScoreComponents.Sparse += e.Score
		case ModeRule:
			existing.ScoreComponents.Rule += e.Score
		case ModeGolden:
			existing.ScoreComponents.Golden += e.Score
		}
		if e.PatternLevel > existing.PatternLevel {
			existing.PatternLevel = e.PatternLevel
		}
		if e.ValidityStart.After(existing.ValidityStart) {
			existing.ValidityStart = e.ValidityStart
		}
		if e.Excerpt != "" {
			existing.Excerpt = e.Excerpt
		}
	}

	for mode, evs := range perMode {
		for _, e := range evs {
			if !e.hasLocator() {
				continue
			}
			add(mode, e)
		}
	}

	out := make([]Evidence, 0, len(order))
	for _, loc := range order {
		e := merged[loc]
		sc := e.ScoreComponents
		e.Score = w.Dense*sc.Dense + w.Sparse*sc.Sparse + w.Rule*sc.Rule + w.Golden*sc.Golden
		out = append(out, *e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].PatternLevel != out[j].PatternLevel {
			return out[i].PatternLevel > out[j].PatternLevel
		}
		return out[i].ValidityStart.After(out[j].ValidityStart)
	})
	return out
}
