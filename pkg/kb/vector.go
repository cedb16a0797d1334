package kb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// Embedding is a dense vector representation of a passage of NESH,
// product-example, or rule text.
type Embedding struct {
	ID     string
	Vector []float32
	Text   string
}

// Embedder turns text into a dense vector. Implementations call out to a
// local or remote embedding model; MemoryEmbedder below is a
// deterministic fake for tests (grounded on the teacher's
// store.Embedder/OpenAIEmbedder split).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists and searches embeddings by cosine similarity.
type VectorStore interface {
	Upsert(ctx context.Context, e Embedding) error
	Search(ctx context.Context, query []float32, topK int) ([]ScoredEmbedding, error)
}

// ScoredEmbedding is a VectorStore search hit.
type ScoredEmbedding struct {
	Embedding
	Score float64
}

// PGVectorStore stores embeddings in Postgres via the pgvector extension,
// matching the teacher's store.PGVectorStore column layout and distance
// operator choice (cosine, `<=>`).
type PGVectorStore struct {
	db  *sql.DB
	dim int
}

// NewPGVectorStore wraps an existing *sql.DB (opened with the lib/pq
// driver) for a fixed embedding dimension.
func NewPGVectorStore(db *sql.DB, dim int) *PGVectorStore {
	return &PGVectorStore{db: db, dim: dim}
}

// Init creates the pgvector-backed embeddings table if absent.
func (s *PGVectorStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS kb_embeddings (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		);
	`, s.dim))
	return err
}

func (s *PGVectorStore) Upsert(ctx context.Context, e Embedding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb_embeddings (id, text, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding
	`, e.ID, e.Text, vectorLiteral(e.Vector))
	return err
}

func (s *PGVectorStore) Search(ctx context.Context, query []float32, topK int) ([]ScoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, 1 - (embedding <=> $1) AS score
		FROM kb_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vectorLiteral(query), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScoredEmbedding
	for rows.Next() {
		var se ScoredEmbedding
		if err := rows.Scan(&se.ID, &se.Text, &se.Score); err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// MemoryEmbedder is a deterministic bag-of-characters embedder used in
// tests and by the classifier binary's dense retrieval wiring; no model
// is called.
type MemoryEmbedder struct{ Dim int }

func (m MemoryEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := m.Dim
	if dim <= 0 {
		dim = 32
	}
	v := make([]float32, dim)
	for i, r := range strings.ToLower(text) {
		v[i%dim] += float32(r%97) / 97.0
	}
	return v, nil
}

// MemoryVectorStore is an in-process VectorStore used in tests, scoring
// by cosine similarity over a plain slice.
type MemoryVectorStore struct {
	items []Embedding
}

func NewMemoryVectorStore() *MemoryVectorStore { return &MemoryVectorStore{} }

func (m *MemoryVectorStore) Upsert(_ context.Context, e Embedding) error {
	for i, existing := range m.items {
		if existing.ID == e.ID {
			m.items[i] = e
			return nil
		}
	}
	m.items = append(m.items, e)
	return nil
}

func (m *MemoryVectorStore) Search(_ context.Context, query []float32, topK int) ([]ScoredEmbedding, error) {
	out := make([]ScoredEmbedding, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, ScoredEmbedding{Embedding: e, Score: cosine(query, e.Vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
