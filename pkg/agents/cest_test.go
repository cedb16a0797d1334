package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/llmprovider"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

type fakeCESTSource struct{}

func (fakeCESTSource) LoadNCM(context.Context) ([]kb.NCMNode, error) { return nil, nil }
func (fakeCESTSource) LoadCEST(context.Context) ([]kb.CESTRule, error) {
	return []kb.CESTRule{{CEST: "0100100", Situation: kb.SituationVigente, NCMPatterns: []string{"30049099"}}}, nil
}
func (fakeCESTSource) LoadSegments(context.Context) ([]kb.Segment, error)        { return nil, nil }
func (fakeCESTSource) LoadExamples(context.Context) ([]kb.ProductExample, error) { return nil, nil }
func (fakeCESTSource) LoadGolden(context.Context) ([]kb.GoldenSetEntry, error)   { return nil, nil }

func newCESTKBHandle(t *testing.T) *kb.Handle {
	t.Helper()
	handle := kb.NewHandle()
	loader := kb.NewLoader(handle, fakeCESTSource{})
	require.NoError(t, loader.Reload(context.Background()))
	return handle
}

func TestCESTAgent_NotApplicableWhenNoRuleEvidence(t *testing.T) {
	a := NewCESTAgent(&scriptedLLM{}, newCESTKBHandle(t))

	s := State{NCMCandidate: "30049099"}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.True(t, out.CESTNotApplicable)
	assert.Equal(t, classification.NotApplicable, out.CESTCandidate)
	assert.Empty(t, out.LastModelID, "no LLM call was made on this branch")
}

func TestCESTAgent_SelectsCandidateFromRuleEvidence(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{ModelID: "fast-1", Structured: map[string]any{"cest": "0100100", "confidence": 0.9, "justification": "matches rule"}},
	}}
	a := NewCESTAgent(llm, newCESTKBHandle(t))

	s := State{NCMCandidate: "30049099"}
	evidence := []retrieval.Evidence{{SourceKind: retrieval.SourceCESTRule, Excerpt: "medicamentos"}}
	out, err := a.Process(context.Background(), s, evidence)

	require.NoError(t, err)
	assert.Equal(t, "0100100", out.CESTCandidate)
	assert.Equal(t, "fast-1", out.LastModelID)
}

func TestCESTAgent_PostconditionRejectsUnknownCEST(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{ModelID: "fast-1", Structured: map[string]any{"cest": "9999999", "confidence": 0.9, "justification": "guess"}},
	}}
	a := NewCESTAgent(llm, newCESTKBHandle(t))

	s := State{NCMCandidate: "30049099"}
	evidence := []retrieval.Evidence{{SourceKind: retrieval.SourceCESTRule, Excerpt: "medicamentos"}}
	_, err := a.Process(context.Background(), s, evidence)

	assert.Error(t, err)
}
