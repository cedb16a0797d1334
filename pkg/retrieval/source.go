package retrieval

import (
	"context"
	"time"
)

// Mode names one of the four composable retrieval strategies (spec §4.2).
type Mode string

const (
	ModeDense  Mode = "dense"
	ModeSparse Mode = "sparse"
	ModeRule   Mode = "rule"
	ModeGolden Mode = "golden"
)

// Filters restrict a retrieval call by source, NCM prefix, segment, and
// validity date, per spec §4.2.
type Filters struct {
	SourceKinds    []SourceKind
	NCMPrefix      string
	Segment        string
	ValidAt        time.Time
	IncludeExpired bool
}

// Query is one retrieval request, fanned out across the requested modes.
type Query struct {
	Text    string
	Filters Filters
	TopK    int
}

// Source is the common contract every retrieval mode implements (spec §9:
// "Retrieval modes are variants with a common run(query, filters)
// contract; fusion composes them").
type Source interface {
	Mode() Mode
	Run(ctx context.Context, q Query) ([]Evidence, error)
}

// Error distinguishes transient (timeout, backend down) from permanent
// (invalid filter) retrieval failures, per spec §7.
type Error struct {
	Mode      Mode
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Transient {
		return "retrieval: transient error in mode " + string(e.Mode) + ": " + e.Err.Error()
	}
	return "retrieval: permanent error in mode " + string(e.Mode) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
