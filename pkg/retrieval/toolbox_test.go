package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantSource struct {
	mode Mode
	ev   []Evidence
	err  error
}

func (s *instantSource) Mode() Mode { return s.mode }
func (s *instantSource) Run(context.Context, Query) ([]Evidence, error) { return s.ev, s.err }

type blockingSource struct {
	mode Mode
}

func (s *blockingSource) Mode() Mode { return s.mode }
func (s *blockingSource) Run(ctx context.Context, _ Query) ([]Evidence, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestToolbox_DegradesWhenAModeTimesOut(t *testing.T) {
	weights := Weights{Dense: 1, Sparse: 1}
	tb := NewToolbox(weights, 20*time.Millisecond,
		&instantSource{mode: ModeDense, ev: []Evidence{{SourceKind: SourceNCMTable, SourceLocator: "ncm:1", Score: 0.9}}},
		&blockingSource{mode: ModeSparse},
	)

	ev, degraded, err := tb.Retrieve(context.Background(), Query{TopK: 5}, []Mode{ModeDense, ModeSparse}, 0.99)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.NotEmpty(t, ev)
	assert.True(t, ev[0].Degraded)
}

func TestToolbox_NotDegradedWhenEveryModeAnswersInTime(t *testing.T) {
	weights := Weights{Dense: 1, Sparse: 1}
	tb := NewToolbox(weights, 50*time.Millisecond,
		&instantSource{mode: ModeDense, ev: []Evidence{{SourceKind: SourceNCMTable, SourceLocator: "ncm:1", Score: 0.9}}},
		&instantSource{mode: ModeSparse, ev: []Evidence{{SourceKind: SourceProductExample, SourceLocator: "ex:1", Score: 0.8}}},
	)

	ev, degraded, err := tb.Retrieve(context.Background(), Query{TopK: 5}, []Mode{ModeDense, ModeSparse}, 0.99)
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.NotEmpty(t, ev)
}

func TestToolbox_PermanentErrorStillFailsTheCall(t *testing.T) {
	weights := Weights{Dense: 1}
	tb := NewToolbox(weights, 50*time.Millisecond,
		&instantSource{mode: ModeDense, err: &Error{Mode: ModeDense, Transient: false, Err: errors.New("permanent failure")}},
	)

	_, _, err := tb.Retrieve(context.Background(), Query{TopK: 5}, []Mode{ModeDense}, 0.99)
	assert.Error(t, err)
}

func TestToolbox_GoldenShortCircuitSkipsOtherModes(t *testing.T) {
	weights := Weights{Dense: 1, Golden: 1}
	golden := &instantSource{mode: ModeGolden, ev: []Evidence{{SourceKind: SourceGoldenSet, SourceLocator: "golden:1", Score: 0.99}}}
	tb := NewToolbox(weights, 0, golden, &blockingSource{mode: ModeDense})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, degraded, err := tb.Retrieve(ctx, Query{TopK: 5}, []Mode{ModeGolden, ModeDense}, 0.9)
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, ev, 1)
	assert.Equal(t, SourceGoldenSet, ev[0].SourceKind)
}
