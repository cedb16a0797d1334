package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/agents"
	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/workflow"
)

type fakeRunner struct {
	fail map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, _ workflow.Flow, _ string, s agents.State) (agents.State, error) {
	if f.fail[s.Product.ProductID] {
		return s, errors.New("boom")
	}
	s.NCMCandidate = "8517.12.31"
	s.NCMConfidence = 0.95
	s.FinalStatus = classification.StatusConfirmed
	return s, nil
}

func noopFlows(_ classification.FlowKind) workflow.Flow { return workflow.Flow{} }

func products(ids ...string) []classification.Product {
	out := make([]classification.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, classification.Product{ProductID: id, TenantID: "t1", DescriptionRaw: "widget"})
	}
	return out
}

func TestBatch_RunAllSucceed(t *testing.T) {
	repo := classification.NewMemoryRepository()
	b := NewBatch(&fakeRunner{}, noopFlows, repo, 3)

	n, err := b.Enqueue(context.Background(), Request{
		TenantID: "t1",
		Products: products("p3", "p1", "p2"),
		FlowKind: classification.FlowConfirmation,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range b.Events() {
			events = append(events, ev)
		}
	}()

	outcome, err := b.Run(context.Background())
	<-done
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.NotEmpty(t, events)
}

func TestBatch_PartialSuccessOnFailingItem(t *testing.T) {
	repo := classification.NewMemoryRepository()
	b := NewBatch(&fakeRunner{fail: map[string]bool{"p2": true}}, noopFlows, repo, 2)

	_, err := b.Enqueue(context.Background(), Request{
		TenantID: "t1",
		Products: products("p1", "p2"),
		FlowKind: classification.FlowConfirmation,
	})
	require.NoError(t, err)

	go func() {
		for range b.Events() {
		}
	}()

	outcome, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialSuccess, outcome)

	p1, err := repo.LatestForProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, classification.StatusConfirmed, p1.Status)

	p2, err := repo.LatestForProduct(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, classification.StatusError, p2.Status)
}

func TestBatch_EmptyWhenNoProducts(t *testing.T) {
	repo := classification.NewMemoryRepository()
	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)

	outcome, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, outcome)
}

func TestBatch_ResumeSkipsRecentNonErrorClassification(t *testing.T) {
	repo := classification.NewMemoryRepository()
	require.NoError(t, repo.Write(context.Background(), classification.Classification{
		ClassificationID: "c1",
		ProductID:        "p1",
		TenantID:         "t1",
		Status:           classification.StatusConfirmed,
		CreatedAt:        time.Now().UTC(),
	}))

	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)
	n, err := b.Enqueue(context.Background(), Request{
		TenantID: "t1",
		Products: products("p1", "p2"),
		FlowKind: classification.FlowConfirmation,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "p1 should be skipped as a recent non-error classification")
}

func TestBatch_ForceReclassifyBypassesResumeSkip(t *testing.T) {
	repo := classification.NewMemoryRepository()
	require.NoError(t, repo.Write(context.Background(), classification.Classification{
		ClassificationID: "c1",
		ProductID:        "p1",
		TenantID:         "t1",
		Status:           classification.StatusConfirmed,
		CreatedAt:        time.Now().UTC(),
	}))

	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)
	n, err := b.Enqueue(context.Background(), Request{
		TenantID:        "t1",
		Products:        products("p1"),
		FlowKind:        classification.FlowConfirmation,
		ForceReclassify: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch_StaleClassificationIsNotSkipped(t *testing.T) {
	repo := classification.NewMemoryRepository()
	require.NoError(t, repo.Write(context.Background(), classification.Classification{
		ClassificationID: "c1",
		ProductID:        "p1",
		TenantID:         "t1",
		Status:           classification.StatusConfirmed,
		CreatedAt:        time.Now().UTC().Add(-31 * 24 * time.Hour),
	}))

	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)
	n, err := b.Enqueue(context.Background(), Request{
		TenantID: "t1",
		Products: products("p1"),
		FlowKind: classification.FlowConfirmation,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a classification older than StaleAfter should be reclassified")
}

func TestBatch_ResumeFromSkipsLexicographicallyEarlierIDs(t *testing.T) {
	repo := classification.NewMemoryRepository()
	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)

	n, err := b.Enqueue(context.Background(), Request{
		TenantID:   "t1",
		Products:   products("p1", "p2", "p3"),
		FlowKind:   classification.FlowConfirmation,
		ResumeFrom: "p2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBatch_LimitCapsEnqueuedCount(t *testing.T) {
	repo := classification.NewMemoryRepository()
	b := NewBatch(&fakeRunner{}, noopFlows, repo, 2)

	n, err := b.Enqueue(context.Background(), Request{
		TenantID: "t1",
		Products: products("p1", "p2", "p3"),
		FlowKind: classification.FlowConfirmation,
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
