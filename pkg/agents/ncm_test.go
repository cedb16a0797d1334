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

type scriptedLLM struct {
	responses []llmprovider.Response
	calls     int
}

func (l *scriptedLLM) Generate(_ context.Context, _ llmprovider.Request) (llmprovider.Response, error) {
	r := l.responses[l.calls]
	l.calls++
	return r, nil
}

func newNCMKBHandle(t *testing.T) *kb.Handle {
	t.Helper()
	handle := kb.NewHandle()
	loader := kb.NewLoader(handle, &fakeNCMSource{})
	require.NoError(t, loader.Reload(context.Background()))
	return handle
}

type fakeNCMSource struct{}

func (fakeNCMSource) LoadNCM(context.Context) ([]kb.NCMNode, error) {
	return []kb.NCMNode{{Code: "85171231", Description: "smartphones"}}, nil
}
func (fakeNCMSource) LoadCEST(context.Context) ([]kb.CESTRule, error)             { return nil, nil }
func (fakeNCMSource) LoadSegments(context.Context) ([]kb.Segment, error)          { return nil, nil }
func (fakeNCMSource) LoadExamples(context.Context) ([]kb.ProductExample, error)   { return nil, nil }
func (fakeNCMSource) LoadGolden(context.Context) ([]kb.GoldenSetEntry, error)     { return nil, nil }

func TestNCMAgent_ValidatePivotsOnReject(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{Structured: map[string]any{"accept": false, "confidence": 0.9, "ncm": "", "justification": "wrong family"}, ModelID: "fast-1"},
		{Structured: map[string]any{"ncm": "85171231", "confidence": 0.92, "justification": "matches smartphone pattern"}, ModelID: "smart-1"},
	}}
	a := NewNCMAgent(llm, newNCMKBHandle(t), 0.7)

	s := State{Product: classification.Product{ProductID: "p1", NCMDeclared: "12345678"}}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, "determine", out.NCMMode)
	assert.Equal(t, "85171231", out.NCMCandidate)
	assert.Equal(t, "smart-1", out.LastModelID)
}

func TestNCMAgent_ValidatePivotsOnLowConfidence(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{Structured: map[string]any{"accept": true, "confidence": 0.4, "ncm": "85171231", "justification": "unsure"}, ModelID: "fast-1"},
		{Structured: map[string]any{"ncm": "85171231", "confidence": 0.88, "justification": "matches smartphone pattern"}, ModelID: "smart-1"},
	}}
	a := NewNCMAgent(llm, newNCMKBHandle(t), 0.7)

	s := State{Product: classification.Product{ProductID: "p1", NCMDeclared: "85171231"}}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls, "accept=true below pivot_threshold must still pivot to determine")
	assert.Equal(t, "determine", out.NCMMode)
	assert.Equal(t, 0.88, out.NCMConfidence)
}

func TestNCMAgent_ValidateAcceptsHighConfidence(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{Structured: map[string]any{"accept": true, "confidence": 0.95, "ncm": "85171231", "justification": "matches declared code"}, ModelID: "fast-1"},
	}}
	a := NewNCMAgent(llm, newNCMKBHandle(t), 0.7)

	s := State{Product: classification.Product{ProductID: "p1", NCMDeclared: "85171231"}}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls, "a confident accept must not pivot")
	assert.Equal(t, "validate", out.NCMMode)
	assert.Equal(t, "85171231", out.NCMCandidate)
}

func TestNCMAgent_DeterminePostconditionRejectsUnknownNCM(t *testing.T) {
	llm := &scriptedLLM{responses: []llmprovider.Response{
		{Structured: map[string]any{"ncm": "99999999", "confidence": 0.9, "justification": "guess"}, ModelID: "smart-1"},
	}}
	a := NewNCMAgent(llm, newNCMKBHandle(t), 0.7)

	s := State{Product: classification.Product{ProductID: "p1"}}
	_, err := a.Process(context.Background(), s, []retrieval.Evidence{})

	assert.Error(t, err)
}
