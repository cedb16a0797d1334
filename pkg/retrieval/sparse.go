package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// fiscalAbbreviations expands common Brazilian NF-e description
// shorthand before tokenization, so "C/" and "COM" score the same sparse
// hit (spec §4.2: "sparse mode uses a fiscal abbreviation
// dictionary, not plain whitespace tokenization").
var fiscalAbbreviations = map[string]string{
	"c/":    "com",
	"s/":    "sem",
	"qtd":   "quantidade",
	"emb":   "embalagem",
	"un":    "unidade",
	"kg":    "quilograma",
	"ml":    "mililitro",
	"gr":    "grama",
	"und":   "unidade",
	"p/":    "para",
	"eletr": "eletronico",
	"refrig": "refrigerado",
}

// Document is one sparse-indexed passage.
type Document struct {
	ID         string
	SourceKind SourceKind
	Text       string
	NCMPrefix  string
}

// SparseSource is the BM25-over-fiscal-tokens retrieval mode, grounded on
// a classic inverted-index/BM25 design (no ecosystem BM25 library
// appears anywhere in the example pack, so this is hand-rolled; see
// DESIGN.md).
type SparseSource struct {
	mu    sync.RWMutex
	docs  []Document
	index map[string][]int // token -> doc indices
	avgDL float64
	k1    float64
	b     float64
}

func NewSparseSource() *SparseSource {
	return &SparseSource{index: map[string][]int{}, k1: 1.2, b: 0.75}
}

// Index replaces the corpus searched by Run; until it is called, Run
// returns no evidence.
func (s *SparseSource) Index(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
	s.index = map[string][]int{}
	var totalLen int
	for i, d := range docs {
		toks := tokenizeFiscal(d.Text)
		totalLen += len(toks)
		seen := map[string]bool{}
		for _, t := range toks {
			if seen[t] {
				continue
			}
			seen[t] = true
			s.index[t] = append(s.index[t], i)
		}
	}
	if len(docs) > 0 {
		s.avgDL = float64(totalLen) / float64(len(docs))
	}
}

func (s *SparseSource) Mode() Mode { return ModeSparse }

func (s *SparseSource) Run(ctx context.Context, q Query) ([]Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qTokens := tokenizeFiscal(q.Text)
	if len(qTokens) == 0 || len(s.docs) == 0 {
		return nil, nil
	}
	scores := make(map[int]float64)
	for _, term := range qTokens {
		matches := s.index[term]
		if len(matches) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(len(s.docs))-float64(len(matches))+0.5)/(float64(len(matches))+0.5))
		for _, di := range matches {
			doc := s.docs[di]
			if q.Filters.NCMPrefix != "" && doc.NCMPrefix != "" &&
				!strings.HasPrefix(doc.NCMPrefix, q.Filters.NCMPrefix) && !strings.HasPrefix(q.Filters.NCMPrefix, doc.NCMPrefix) {
				continue
			}
			if !matchesSourceKindFilter(q.Filters, doc.SourceKind) {
				continue
			}
			tf := float64(termFrequency(term, doc.Text))
			dl := float64(len(tokenizeFiscal(doc.Text)))
			denom := tf + s.k1*(1-s.b+s.b*dl/nonZero(s.avgDL))
			scores[di] += idf * (tf * (s.k1 + 1)) / nonZero(denom)
		}
	}
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for idx, sc := range scores {
		ranked = append(ranked, scored{idx, sc})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	topK := q.TopK
	if topK <= 0 || topK > len(ranked) {
		topK = len(ranked)
	}
	out := make([]Evidence, 0, topK)
	for _, r := range ranked[:topK] {
		d := s.docs[r.idx]
		out = append(out, Evidence{
			SourceKind:    d.SourceKind,
			SourceLocator: d.ID,
			Excerpt:       d.Text,
			Score:         r.score,
		})
	}
	return out, nil
}

func termFrequency(term, text string) int {
	count := 0
	for _, t := range tokenizeFiscal(text) {
		if t == term {
			count++
		}
	}
	return count
}

func nonZero(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

func tokenizeFiscal(text string) []string {
	text = strings.ToLower(text)
	for abbr, full := range fiscalAbbreviations {
		text = strings.ReplaceAll(text, abbr, full)
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == 'ã' || r == 'ç' || r == 'õ' || r == 'á' || r == 'é' || r == 'í' || r == 'ó' || r == 'ú' || r == 'â' || r == 'ê')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
