package kb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Source reads the raw rows that make up one KB reload. A Postgres-backed
// implementation is provided below; tests substitute a fake.
type Source interface {
	LoadNCM(ctx context.Context) ([]NCMNode, error)
	LoadCEST(ctx context.Context) ([]CESTRule, error)
	LoadSegments(ctx context.Context) ([]Segment, error)
	LoadExamples(ctx context.Context) ([]ProductExample, error)
	LoadGolden(ctx context.Context) ([]GoldenSetEntry, error)
}

// Loader builds a new Snapshot off to the side of the current one and
// swaps it in atomically once every source has loaded without error
// (grounded on the teacher's policyloader.Loader: map-swap-under-RWMutex
// generalised here to a single atomic pointer plus an explicit version
// counter).
type Loader struct {
	handle *Handle
	src    Source

	mu        sync.Mutex
	onReload  []func(*Snapshot)
	lastErr   error
	version   int
}

// NewLoader wires a Source to a Handle. Call Reload once at startup
// before serving traffic, then again on whatever cadence spec §4.1
// calls for.
func NewLoader(handle *Handle, src Source) *Loader {
	return &Loader{handle: handle, src: src}
}

// OnReload registers a callback invoked, in registration order, after
// each successful Reload with the new Snapshot.
func (l *Loader) OnReload(fn func(*Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = append(l.onReload, fn)
}

// Reload loads every source, normalises rows, and only then swaps the
// Handle. A failure in any source leaves the previously-served Snapshot
// untouched and returns the error (no partial reload is ever observed).
func (l *Loader) Reload(ctx context.Context) error {
	rawNCM, err := l.src.LoadNCM(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("kb: load ncm: %w", err))
	}
	rawCEST, err := l.src.LoadCEST(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("kb: load cest: %w", err))
	}
	segments, err := l.src.LoadSegments(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("kb: load segments: %w", err))
	}
	examples, err := l.src.LoadExamples(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("kb: load examples: %w", err))
	}
	golden, err := l.src.LoadGolden(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("kb: load golden set: %w", err))
	}

	ncm, err := normalizeNCMRows(rawNCM)
	if err != nil {
		return l.fail(err)
	}
	cest, err := normalizeCESTRows(rawCEST)
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.version++
	version := l.version
	l.mu.Unlock()

	snap := newSnapshot(version, ncm, cest, segments, examples, golden)
	l.handle.Swap(snap)

	l.mu.Lock()
	callbacks := append([]func(*Snapshot){}, l.onReload...)
	l.lastErr = nil
	l.mu.Unlock()
	for _, cb := range callbacks {
		cb(snap)
	}
	return nil
}

func (l *Loader) fail(err error) error {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	return err
}

func normalizeNCMRows(rows []NCMNode) ([]NCMNode, error) {
	out := make([]NCMNode, 0, len(rows))
	for i, n := range rows {
		code, err := NormalizeNCM(n.Code)
		if err != nil {
			return nil, &LoadError{Source: "ncm", Row: i, Cause: err}
		}
		n.Code = code
		n.Chapter = NCMChapter(code)
		n.Position = NCMPosition(code)
		n.Subposition = NCMSubposition(code)
		out = append(out, n)
	}
	return out, nil
}

func normalizeCESTRows(rows []CESTRule) ([]CESTRule, error) {
	out := make([]CESTRule, 0, len(rows))
	for i, r := range rows {
		code, err := NormalizeCEST(r.CEST)
		if err != nil {
			return nil, &LoadError{Source: "cest", Row: i, Cause: err}
		}
		r.CEST = code
		norm := make([]string, 0, len(r.NCMPatterns))
		for _, p := range r.NCMPatterns {
			digits := onlyDigits(p)
			if digits == "" {
				continue
			}
			norm = append(norm, digits)
		}
		r.NCMPatterns = norm
		out = append(out, r)
	}
	return out, nil
}

// PostgresSource reads KB rows from the structured store's source tables
// (spec §4.1: "the structured store is authoritative; vector and graph
// are derived views rebuilt from it") using sqlx for row-to-struct
// scanning, since every one of these tables maps directly onto an
// exported struct and the hand-written positional Scan calls pgx would
// otherwise need add nothing sqlx's StructScan doesn't already do.
type PostgresSource struct {
	db *sqlx.DB
}

// NewPostgresSource wraps an existing sqlx handle (opened with the
// "postgres" driver via lib/pq; the classifier binary shares it with
// goldenset.PostgresStore).
func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

const structuredSchema = `
CREATE TABLE IF NOT EXISTS ncm (
	code TEXT PRIMARY KEY,
	description TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS segment (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cest_rule (
	cest TEXT NOT NULL,
	segment_id TEXT NOT NULL REFERENCES segment(id),
	description TEXT NOT NULL,
	ncm_patterns TEXT[] NOT NULL,
	validity_start TIMESTAMPTZ NOT NULL,
	validity_end TIMESTAMPTZ,
	situation TEXT NOT NULL,
	source TEXT NOT NULL,
	segment_cel_expr TEXT,
	PRIMARY KEY (cest, source)
);
CREATE TABLE IF NOT EXISTS product_example (
	gtin TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	ncm TEXT NOT NULL,
	cest TEXT
);
CREATE TABLE IF NOT EXISTS golden_set (
	entry_id TEXT PRIMARY KEY,
	description_raw TEXT NOT NULL,
	description_enriched TEXT NOT NULL,
	gtin TEXT,
	ncm_correct TEXT NOT NULL,
	cest_correct TEXT,
	source_user TEXT NOT NULL,
	source_tenant TEXT NOT NULL,
	version INT NOT NULL,
	supersedes TEXT,
	active BOOLEAN NOT NULL DEFAULT true
);
`

// Init creates the structured-store schema if it does not already exist.
func (s *PostgresSource) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, structuredSchema)
	return err
}

func (s *PostgresSource) LoadNCM(ctx context.Context) ([]NCMNode, error) {
	var out []NCMNode
	err := s.db.SelectContext(ctx, &out, `SELECT code, description FROM ncm ORDER BY code`)
	return out, err
}

// cestRuleRow mirrors cest_rule's columns in the shapes sqlx/lib-pq can
// scan directly; Load converts each into the domain CESTRule.
type cestRuleRow struct {
	CEST           string         `db:"cest"`
	SegmentID      string         `db:"segment_id"`
	Description    string         `db:"description"`
	NCMPatterns    pq.StringArray `db:"ncm_patterns"`
	ValidityStart  time.Time      `db:"validity_start"`
	ValidityEnd    sql.NullTime   `db:"validity_end"`
	Situation      string         `db:"situation"`
	Source         string         `db:"source"`
	SegmentCELExpr string         `db:"segment_cel_expr"`
}

func (s *PostgresSource) LoadCEST(ctx context.Context) ([]CESTRule, error) {
	var rows []cestRuleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT cest, segment_id, description, ncm_patterns, validity_start,
		       validity_end, situation, source, COALESCE(segment_cel_expr, '') AS segment_cel_expr
		FROM cest_rule ORDER BY cest`)
	if err != nil {
		return nil, err
	}
	out := make([]CESTRule, 0, len(rows))
	for _, row := range rows {
		r := CESTRule{
			CEST:           row.CEST,
			SegmentID:      row.SegmentID,
			Description:    row.Description,
			NCMPatterns:    []string(row.NCMPatterns),
			ValidityStart:  row.ValidityStart,
			Situation:      Situation(row.Situation),
			Source:         row.Source,
			SegmentCELExpr: row.SegmentCELExpr,
		}
		if row.ValidityEnd.Valid {
			r.ValidityEnd = row.ValidityEnd.Time
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresSource) LoadSegments(ctx context.Context) ([]Segment, error) {
	var out []Segment
	err := s.db.SelectContext(ctx, &out, `SELECT id, name, description FROM segment ORDER BY id`)
	return out, err
}

func (s *PostgresSource) LoadExamples(ctx context.Context) ([]ProductExample, error) {
	var out []ProductExample
	err := s.db.SelectContext(ctx, &out,
		`SELECT gtin, description, ncm, COALESCE(cest, '') AS cest FROM product_example`)
	return out, err
}

// goldenSetRow mirrors golden_set's nullable columns; Load converts each
// into the domain GoldenSetEntry (Supersedes is a *string there).
type goldenSetRow struct {
	EntryID             string         `db:"entry_id"`
	DescriptionRaw      string         `db:"description_raw"`
	DescriptionEnriched string         `db:"description_enriched"`
	GTIN                string         `db:"gtin"`
	NCMCorrect          string         `db:"ncm_correct"`
	CESTCorrect         string         `db:"cest_correct"`
	SourceUser          string         `db:"source_user"`
	SourceTenant        string         `db:"source_tenant"`
	Version             int            `db:"version"`
	Supersedes          sql.NullString `db:"supersedes"`
	Active              bool           `db:"active"`
}

func (s *PostgresSource) LoadGolden(ctx context.Context) ([]GoldenSetEntry, error) {
	var rows []goldenSetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT entry_id, description_raw, description_enriched, COALESCE(gtin, '') AS gtin,
		       ncm_correct, COALESCE(cest_correct, '') AS cest_correct, source_user, source_tenant,
		       version, supersedes, active
		FROM golden_set`)
	if err != nil {
		return nil, err
	}
	out := make([]GoldenSetEntry, 0, len(rows))
	for _, row := range rows {
		g := GoldenSetEntry{
			EntryID:             row.EntryID,
			DescriptionRaw:      row.DescriptionRaw,
			DescriptionEnriched: row.DescriptionEnriched,
			GTIN:                row.GTIN,
			NCMCorrect:          row.NCMCorrect,
			CESTCorrect:         row.CESTCorrect,
			SourceUser:          row.SourceUser,
			SourceTenant:        row.SourceTenant,
			Version:             row.Version,
			Active:              row.Active,
		}
		if row.Supersedes.Valid {
			v := row.Supersedes.String
			g.Supersedes = &v
		}
		out = append(out, g)
	}
	return out, nil
}
