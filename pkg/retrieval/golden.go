package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/fiscalclass/engine/pkg/kb"
)

// GoldenSource is the golden-set priority retrieval mode: an exact or
// near-exact match on a human-curated entry short-circuits the other
// three modes (spec §4.2, §4.7).
type GoldenSource struct {
	kb *kb.Handle
}

func NewGoldenSource(handle *kb.Handle) *GoldenSource {
	return &GoldenSource{kb: handle}
}

func (s *GoldenSource) Mode() Mode { return ModeGolden }

func (s *GoldenSource) Run(_ context.Context, q Query) ([]Evidence, error) {
	snap := s.kb.Current()
	target := normalizeForMatch(q.Text)
	var out []Evidence
	for _, g := range snap.Golden {
		if !g.Active {
			continue
		}
		score := similarity(target, normalizeForMatch(g.DescriptionEnriched))
		if score == 0 {
			continue
		}
		out = append(out, Evidence{
			SourceKind:    SourceGoldenSet,
			SourceLocator: "golden:" + g.EntryID,
			Excerpt:       g.DescriptionEnriched,
			Score:         score,
		})
	}
	// exact match first, then by score descending; callers treat out[0]
	// as the candidate for short-circuit.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func normalizeForMatch(s string) string {
	return strings.Join(tokenizeFiscal(s), " ")
}

// similarity is an exact-match (1.0) or Jaccard-over-tokens fallback,
// deliberately cheap since the golden-set lookup sits on the hot path
// before more expensive modes run.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	for _, t := range tb {
		if set[t] {
			inter++
		}
	}
	union := len(set)
	for _, t := range tb {
		if !set[t] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
