package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
)

// AggregationAgent groups products that should share one NCM/CEST
// determination instead of paying the full agent pipeline per row
// (spec §4.4.2). Unlike the other four agents it is batch-scoped, so it
// does not implement the per-item Agent contract — Run takes the whole
// batch and returns one Report.
type AggregationAgent struct {
	embedder        kb.Embedder
	similarityMin   float64
	version         string
}

func NewAggregationAgent(embedder kb.Embedder, similarityMin float64) *AggregationAgent {
	return &AggregationAgent{embedder: embedder, similarityMin: similarityMin, version: "aggregation-v1"}
}

func (a *AggregationAgent) Name() Name            { return NameAggregation }
func (a *AggregationAgent) PromptVersion() string { return a.version }

// Report is the result of one aggregation pass: every input product
// assigned to exactly one group, plus the method that matched it.
type Report struct {
	Groups          []classification.AggregationGroup
	ProductToGroup  map[string]string
	MethodCounts    map[classification.AggregationMethod]int
}

// Run applies the four grouping passes in order — exact description,
// normalised description, embedding similarity, code equivalence — each
// pass only considering products the previous pass left ungrouped.
// Within a group the representative is chosen deterministically: the
// product with the lexicographically smallest ProductID (spec §4.4.2:
// "tie-break must be deterministic, not insertion-order dependent").
func (a *AggregationAgent) Run(ctx context.Context, products []classification.Product) (Report, error) {
	report := Report{
		ProductToGroup: map[string]string{},
		MethodCounts:   map[classification.AggregationMethod]int{},
	}
	remaining := make([]classification.Product, len(products))
	copy(remaining, products)

	passes := []struct {
		method classification.AggregationMethod
		keyFn  func(classification.Product) string
	}{
		{classification.MethodExactDescription, func(p classification.Product) string { return p.DescriptionRaw }},
		{classification.MethodNormalisedDescription, func(p classification.Product) string { return normaliseDescription(p.DescriptionRaw) }},
	}

	for _, pass := range passes {
		buckets := map[string][]classification.Product{}
		var stillRemaining []classification.Product
		for _, p := range remaining {
			if _, done := report.ProductToGroup[p.ProductID]; done {
				continue
			}
			key := pass.keyFn(p)
			if key == "" {
				stillRemaining = append(stillRemaining, p)
				continue
			}
			buckets[key] = append(buckets[key], p)
		}
		for _, members := range buckets {
			if len(members) < 2 {
				stillRemaining = append(stillRemaining, members...)
				continue
			}
			a.commitGroup(&report, pass.method, members)
		}
		remaining = stillRemaining
	}

	if a.embedder != nil && len(remaining) > 1 {
		grouped, ungrouped, err := a.groupByEmbedding(ctx, remaining)
		if err != nil {
			return report, fmt.Errorf("agents: aggregation: embedding pass: %w", err)
		}
		for _, members := range grouped {
			a.commitGroup(&report, classification.MethodEmbeddingSimilarity, members)
		}
		remaining = ungrouped
	}

	codeBuckets := map[string][]classification.Product{}
	var singletons []classification.Product
	for _, p := range remaining {
		if p.NCMDeclared == "" {
			singletons = append(singletons, p)
			continue
		}
		codeBuckets[p.NCMDeclared] = append(codeBuckets[p.NCMDeclared], p)
	}
	for _, members := range codeBuckets {
		if len(members) < 2 {
			singletons = append(singletons, members...)
			continue
		}
		a.commitGroup(&report, classification.MethodCodeEquivalence, members)
	}

	for _, p := range singletons {
		a.commitGroup(&report, classification.MethodExactDescription, []classification.Product{p})
	}

	return report, nil
}

func (a *AggregationAgent) commitGroup(report *Report, method classification.AggregationMethod, members []classification.Product) {
	sort.Slice(members, func(i, j int) bool { return members[i].ProductID < members[j].ProductID })
	representative := members[0]
	groupID := "grp_" + representative.ProductID
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ProductID
		report.ProductToGroup[m.ProductID] = groupID
	}
	confidence := 1.0
	if method == classification.MethodEmbeddingSimilarity {
		confidence = a.similarityMin
	}
	report.Groups = append(report.Groups, classification.AggregationGroup{
		GroupID:                 groupID,
		TenantID:                representative.TenantID,
		Signature:               string(method) + ":" + representative.ProductID,
		Members:                 ids,
		RepresentativeProductID: representative.ProductID,
		AggregationConfidence:   confidence,
		Method:                  method,
	})
	report.MethodCounts[method] += len(members)
}

func (a *AggregationAgent) groupByEmbedding(ctx context.Context, products []classification.Product) ([][]classification.Product, []classification.Product, error) {
	type embedded struct {
		product classification.Product
		vector  []float32
	}
	vecs := make([]embedded, 0, len(products))
	for _, p := range products {
		v, err := a.embedder.Embed(ctx, p.DescriptionRaw)
		if err != nil {
			return nil, nil, err
		}
		vecs = append(vecs, embedded{product: p, vector: v})
	}

	used := make([]bool, len(vecs))
	var groups [][]classification.Product
	var ungrouped []classification.Product
	for i := range vecs {
		if used[i] {
			continue
		}
		group := []classification.Product{vecs[i].product}
		used[i] = true
		for j := i + 1; j < len(vecs); j++ {
			if used[j] {
				continue
			}
			if cosineSim(vecs[i].vector, vecs[j].vector) >= a.similarityMin {
				group = append(group, vecs[j].product)
				used[j] = true
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		} else {
			ungrouped = append(ungrouped, group...)
		}
	}
	return groups, ungrouped, nil
}

func cosineSim(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrtApprox(na) * sqrtApprox(nb))
}

func sqrtApprox(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z = 0.5 * (z + x/z)
	}
	return z
}

func normaliseDescription(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	fields := strings.Fields(lower)
	return strings.Join(fields, " ")
}
