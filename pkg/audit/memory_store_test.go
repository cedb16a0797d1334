package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/agents"
)

func TestMemoryStore_ByClassificationOrdersByStepIndex(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "s2", ClassificationID: "c1", StepIndex: 1, Agent: agents.NameNCM}))
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "s1", ClassificationID: "c1", StepIndex: 0, Agent: agents.NameEnrichment}))

	steps, err := s.ByClassification(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "s1", steps[0].StepID)
	assert.Equal(t, "s2", steps[1].StepID)
}

func TestMemoryStore_ByTenantRangeFiltersOutOfWindow(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "in", TenantID: "t1", CreatedAt: now}))
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "out", TenantID: "t1", CreatedAt: now.Add(-48 * time.Hour)}))

	steps, err := s.ByTenantRange(context.Background(), "t1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "in", steps[0].StepID)
}

func TestMemoryStore_ByAgentStatusFilters(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "ok", TenantID: "t1", Agent: agents.NameNCM, Status: StepOK}))
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "err", TenantID: "t1", Agent: agents.NameNCM, Status: StepError}))

	steps, err := s.ByAgentStatus(context.Background(), "t1", string(agents.NameNCM), StepError)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "err", steps[0].StepID)
}

func TestMemoryStore_AppendDefaultsCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append(context.Background(), AuditStep{StepID: "s1", ProductID: "p1"}))

	steps, err := s.ByProduct(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.False(t, steps[0].CreatedAt.IsZero())
}
