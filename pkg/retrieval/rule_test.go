package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/kb"
)

type fakeKBSource struct {
	cest []kb.CESTRule
}

func (s *fakeKBSource) LoadNCM(context.Context) ([]kb.NCMNode, error) { return nil, nil }
func (s *fakeKBSource) LoadCEST(context.Context) ([]kb.CESTRule, error) { return s.cest, nil }
func (s *fakeKBSource) LoadSegments(context.Context) ([]kb.Segment, error) { return nil, nil }
func (s *fakeKBSource) LoadExamples(context.Context) ([]kb.ProductExample, error) { return nil, nil }
func (s *fakeKBSource) LoadGolden(context.Context) ([]kb.GoldenSetEntry, error) { return nil, nil }

func newTestSnapshotHandle(t *testing.T, cest []kb.CESTRule) *kb.Handle {
	t.Helper()
	handle := kb.NewHandle()
	loader := kb.NewLoader(handle, &fakeKBSource{cest: cest})
	require.NoError(t, loader.Reload(context.Background()))
	return handle
}

// segmentRule is a rule whose predicate only accepts a declared company
// activity of "farmacia", authored against the company_activity variable
// (the two CEL variables bound by evalSegment must stay distinct, since
// segment_id carries the rule's own tag, not the caller's filter value).
func segmentRule() kb.CESTRule {
	return kb.CESTRule{
		CEST:           "0100100",
		SegmentID:      "medicamentos",
		Description:    "medicamentos de referencia",
		NCMPatterns:    []string{"30049099"},
		Situation:      kb.SituationVigente,
		Source:         "conv_142",
		SegmentCELExpr: `company_activity == "farmacia"`,
	}
}

func TestRuleSource_SegmentPredicateMatches(t *testing.T) {
	handle := newTestSnapshotHandle(t, []kb.CESTRule{segmentRule()})
	src, err := NewRuleSource(handle)
	require.NoError(t, err)

	ev, err := src.Run(context.Background(), Query{
		Filters: Filters{NCMPrefix: "30049099", Segment: "farmacia", ValidAt: time.Now()},
	})
	require.NoError(t, err)

	var gotCEST bool
	for _, e := range ev {
		if e.SourceKind == SourceCESTRule {
			gotCEST = true
		}
	}
	assert.True(t, gotCEST, "rule matching the declared company activity must be returned")
}

func TestRuleSource_SegmentPredicateRejects(t *testing.T) {
	handle := newTestSnapshotHandle(t, []kb.CESTRule{segmentRule()})
	src, err := NewRuleSource(handle)
	require.NoError(t, err)

	ev, err := src.Run(context.Background(), Query{
		Filters: Filters{NCMPrefix: "30049099", Segment: "atacado", ValidAt: time.Now()},
	})
	require.NoError(t, err)

	for _, e := range ev {
		assert.NotEqual(t, SourceCESTRule, e.SourceKind, "rule must be filtered out for a non-matching company activity")
	}
}
