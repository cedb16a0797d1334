package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/classification"
)

func TestAggregationAgent_SharedGroupForIdenticalDescriptions(t *testing.T) {
	a := NewAggregationAgent(nil, 0.85)

	products := []classification.Product{
		{ProductID: "p3", TenantID: "t1", DescriptionRaw: "parafuso sextavado m6"},
		{ProductID: "p1", TenantID: "t1", DescriptionRaw: "parafuso sextavado m6"},
		{ProductID: "p2", TenantID: "t1", DescriptionRaw: "parafuso sextavado m6"},
	}

	report, err := a.Run(context.Background(), products)
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	group := report.Groups[0]
	assert.Equal(t, "p1", group.RepresentativeProductID, "tie-break picks the lexicographically smallest id")
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, group.Members)
	for _, p := range products {
		assert.Equal(t, group.GroupID, report.ProductToGroup[p.ProductID])
	}
}

func TestAggregationAgent_SumOfMembersEqualsInputCount(t *testing.T) {
	a := NewAggregationAgent(nil, 0.85)

	products := []classification.Product{
		{ProductID: "p1", TenantID: "t1", DescriptionRaw: "parafuso m6"},
		{ProductID: "p2", TenantID: "t1", DescriptionRaw: "parafuso m6"},
		{ProductID: "p3", TenantID: "t1", DescriptionRaw: "arruela lisa"},
		{ProductID: "p4", TenantID: "t1", DescriptionRaw: "porca sextavada", NCMDeclared: "73181600"},
		{ProductID: "p5", TenantID: "t1", DescriptionRaw: "porca sextavada m10", NCMDeclared: "73181600"},
	}

	report, err := a.Run(context.Background(), products)
	require.NoError(t, err)

	total := 0
	for _, g := range report.Groups {
		total += len(g.Members)
	}
	assert.Equal(t, len(products), total)
	assert.Len(t, report.ProductToGroup, len(products))
}

func TestAggregationAgent_SingletonStillGetsAGroup(t *testing.T) {
	a := NewAggregationAgent(nil, 0.85)

	products := []classification.Product{
		{ProductID: "p1", TenantID: "t1", DescriptionRaw: "unique widget xyz"},
	}

	report, err := a.Run(context.Background(), products)
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, "p1", report.Groups[0].RepresentativeProductID)
	assert.Equal(t, report.Groups[0].GroupID, report.ProductToGroup["p1"])
}
