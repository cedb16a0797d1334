package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

func newReconciliationKBHandle(t *testing.T) *kb.Handle {
	t.Helper()
	handle := kb.NewHandle()
	loader := kb.NewLoader(handle, &fakeNCMSource{})
	require.NoError(t, loader.Reload(context.Background()))
	return handle
}

func TestReconciliationAgent_ConfirmsWhenEverythingVerifies(t *testing.T) {
	a := NewReconciliationAgent(newReconciliationKBHandle(t), 0.7, 0.7, 0.5)

	s := State{
		NCMCandidate:      "85171231",
		NCMConfidence:     0.9,
		NCMJustification:  "matches ncm_table entry",
		CESTCandidate:     classification.NotApplicable,
		CESTNotApplicable: true,
		CESTConfidence:    1.0,
		NCMMode:           "validate",
		Evidence:          []retrieval.Evidence{{SourceKind: retrieval.SourceNCMTable, SourceLocator: "ncm:85171231"}},
	}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, classification.StatusConfirmed, out.FinalStatus)
	assert.Empty(t, out.LastModelID)
	assert.Empty(t, out.LastJustification)
}

func TestReconciliationAgent_ManualReviewOnUnverifiedNCM(t *testing.T) {
	a := NewReconciliationAgent(newReconciliationKBHandle(t), 0.7, 0.7, 0.5)

	s := State{
		NCMCandidate:      "00000000",
		NCMConfidence:     0.9,
		CESTCandidate:     classification.NotApplicable,
		CESTNotApplicable: true,
		CESTConfidence:    1.0,
	}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, classification.StatusManualReview, out.FinalStatus)
	assert.Less(t, out.NCMConfidence, 0.9)
}

func TestReconciliationAgent_ManualReviewBelowConfirmationThreshold(t *testing.T) {
	a := NewReconciliationAgent(newReconciliationKBHandle(t), 0.7, 0.7, 0.5)

	s := State{
		NCMCandidate:      "85171231",
		NCMConfidence:     0.5,
		NCMJustification:  "matches ncm_table entry",
		CESTCandidate:     classification.NotApplicable,
		CESTNotApplicable: true,
		CESTConfidence:    1.0,
		Evidence:          []retrieval.Evidence{{SourceKind: retrieval.SourceNCMTable, SourceLocator: "ncm:85171231"}},
	}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, classification.StatusManualReview, out.FinalStatus)
}

func TestReconciliationAgent_DeterminedWhenModeIsDetermine(t *testing.T) {
	a := NewReconciliationAgent(newReconciliationKBHandle(t), 0.7, 0.7, 0.5)

	s := State{
		NCMCandidate:      "85171231",
		NCMConfidence:     0.9,
		NCMJustification:  "matches ncm_table entry",
		NCMMode:           "determine",
		CESTCandidate:     classification.NotApplicable,
		CESTNotApplicable: true,
		CESTConfidence:    1.0,
		Evidence:          []retrieval.Evidence{{SourceKind: retrieval.SourceNCMTable, SourceLocator: "ncm:85171231"}},
	}
	out, err := a.Process(context.Background(), s, nil)

	require.NoError(t, err)
	assert.Equal(t, classification.StatusDetermined, out.FinalStatus)
}
