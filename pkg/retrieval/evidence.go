// Package retrieval implements the hybrid retrieval toolbox: dense,
// sparse, rule/graph, and golden-set lookups over the knowledge base,
// fused into a single ranked Evidence list.
package retrieval

import "time"

// SourceKind names where an Evidence fragment came from.
type SourceKind string

const (
	SourceNCMTable     SourceKind = "ncm_table"
	SourceCESTRule     SourceKind = "cest_rule"
	SourceNESHChapter  SourceKind = "nesh_chapter"
	SourceCESTRegional SourceKind = "cest_regional"
	SourceProductExample SourceKind = "product_example"
	SourceGoldenSet    SourceKind = "golden_set"
)

// ScoreComponents breaks a fused score down by contributing mode, so a
// ReconciliationAgent or a human reviewer can see why an Evidence ranked
// where it did.
type ScoreComponents struct {
	Dense  float64 `json:"dense,omitempty"`
	Sparse float64 `json:"sparse,omitempty"`
	Rule   float64 `json:"rule,omitempty"`
	Golden float64 `json:"golden,omitempty"`
}

// Evidence is a retrieved fragment grounding a decision. Every Evidence
// returned by the toolbox carries a non-empty SourceLocator (spec §4.2
// invariant).
type Evidence struct {
	SourceKind      SourceKind      `json:"source_kind"`
	SourceLocator   string          `json:"source_locator"`
	Excerpt         string          `json:"excerpt"`
	Score           float64         `json:"score"`
	ScoreComponents ScoreComponents `json:"score_components"`

	// PatternLevel is the specificity (8/6/4/2) of the ncm_pattern that
	// produced this Evidence, used for fusion tie-breaking. Zero when
	// not applicable (e.g. a NESH chapter excerpt).
	PatternLevel int `json:"pattern_level,omitempty"`
	// ValidityStart supports the "most recent validity_start" tie-break.
	ValidityStart time.Time `json:"validity_start,omitempty"`
	// Expired marks evidence from a rule outside its validity window;
	// only ever set when the caller explicitly asked to include expired
	// rules (spec §4.2 invariant: never returned otherwise).
	Expired bool `json:"expired,omitempty"`
	// Degraded marks evidence returned from a Retrieve call in which at
	// least one requested mode missed its per-mode deadline (spec §4.2:
	// "partial results returned on timeout with a degraded flag").
	Degraded bool `json:"degraded,omitempty"`
}

func (e Evidence) hasLocator() bool { return e.SourceLocator != "" }
