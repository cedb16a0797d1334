package retrieval

import (
	"context"
	"strings"

	"github.com/fiscalclass/engine/pkg/kb"
)

// DenseSource is the embedding-similarity retrieval mode: it embeds the
// query text and searches the KB's VectorStore.
type DenseSource struct {
	embedder kb.Embedder
	store    kb.VectorStore
}

func NewDenseSource(embedder kb.Embedder, store kb.VectorStore) *DenseSource {
	return &DenseSource{embedder: embedder, store: store}
}

func (s *DenseSource) Mode() Mode { return ModeDense }

func (s *DenseSource) Run(ctx context.Context, q Query) ([]Evidence, error) {
	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, &Error{Mode: ModeDense, Transient: true, Err: err}
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	hits, err := s.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, &Error{Mode: ModeDense, Transient: true, Err: err}
	}
	out := make([]Evidence, 0, len(hits))
	for _, h := range hits {
		if !matchesSourceKindFilter(q.Filters, inferSourceKind(h.ID)) {
			continue
		}
		out = append(out, Evidence{
			SourceKind:    inferSourceKind(h.ID),
			SourceLocator: h.ID,
			Excerpt:       h.Text,
			Score:         h.Score,
		})
	}
	return out, nil
}

// inferSourceKind recovers a SourceKind from the embedding id's "<kind>:"
// prefix; ids without a known prefix are treated as NESH chapters.
func inferSourceKind(id string) SourceKind {
	switch {
	case strings.HasPrefix(id, "ncm:"):
		return SourceNCMTable
	case strings.HasPrefix(id, "cest:"):
		return SourceCESTRule
	case strings.HasPrefix(id, "nesh:"):
		return SourceNESHChapter
	case strings.HasPrefix(id, "example:"):
		return SourceProductExample
	default:
		return SourceNESHChapter
	}
}

func matchesSourceKindFilter(f Filters, kind SourceKind) bool {
	if len(f.SourceKinds) == 0 {
		return true
	}
	for _, k := range f.SourceKinds {
		if k == kind {
			return true
		}
	}
	return false
}
