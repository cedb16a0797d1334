// Package agents implements the five classification agents that share
// one dispatch contract: Enrichment, Aggregation, NCM, CEST, and
// Reconciliation (spec §4.4). Each is a capability variant of the same
// shape — process a State, declare what it wants retrieved, carry a
// versioned prompt id — rather than a hand-branched pipeline stage.
package agents

import (
	"context"
	"time"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

// Name identifies a classification agent.
type Name string

const (
	NameEnrichment    Name = "enrichment"
	NameAggregation   Name = "aggregation"
	NameNCM           Name = "ncm"
	NameCEST          Name = "cest"
	NameReconciliation Name = "reconciliation"
)

// RetrievalPlan declares what an agent wants from the toolbox before it
// runs, so the orchestrator (not the agent) owns the retrieval call and
// its timeout (spec §4.2, §4.5).
type RetrievalPlan struct {
	Modes   []retrieval.Mode
	TopK    int
	Filters retrieval.Filters
}

// Agent is the contract every classification agent implements.
type Agent interface {
	Name() Name
	PromptVersion() string
	RetrievalPlan(s State) RetrievalPlan
	Process(ctx context.Context, s State, evidence []retrieval.Evidence) (State, error)
}

// EnrichedAttributes are the structured product facts EnrichmentAgent
// extracts from free-text descriptions (spec §4.4.1).
type EnrichedAttributes struct {
	DescriptionEnriched string            `json:"description_enriched"`
	Material            string            `json:"material,omitempty"`
	Function            string            `json:"function,omitempty"`
	Attributes          map[string]string `json:"attributes,omitempty"`
	TagSchema           string            `json:"tag_schema"`
	// Confidence is the fraction of extracted attributes whose values
	// parsed against their typed schema (spec §4.4, §4.4.1), in [0,1].
	Confidence float64 `json:"confidence"`
}

// State is threaded through every node of a flow (spec §4.5). Agents
// read what earlier nodes wrote and append their own contribution; the
// one exception is ReconciliationAgent, which overwrites NCMConfidence
// and CESTConfidence with their damped values.
type State struct {
	Product        classification.Product
	FlowKind       classification.FlowKind
	ForceDetermine bool
	Now            time.Time

	Enriched   *EnrichedAttributes
	Group      *classification.AggregationGroup
	Evidence   []retrieval.Evidence

	NCMCandidate    string
	NCMConfidence   float64
	NCMJustification string
	NCMMode         string // "validate" | "determine"

	CESTCandidate    string
	CESTConfidence   float64
	CESTJustification string
	CESTNotApplicable bool

	FinalStatus classification.Status
	FinalNote   string

	// LastModelID and LastJustification carry the most recent LLM call's
	// model id and justification text forward to the runner, which copies
	// them onto the AuditStep it persists for this node (spec §3, §4.6).
	// An agent that makes no LLM call clears LastModelID; it also clears
	// LastJustification unless it has a fixed reason of its own to record
	// (CESTAgent's no-matching-rule branch).
	LastModelID       string
	LastJustification string
}

// KBView is the read-only KB access every agent gets; never a raw pool,
// always the current Snapshot via the Handle (spec §4.1, §5: readers
// never see a partial reload).
type KBView interface {
	Current() *kb.Snapshot
}
