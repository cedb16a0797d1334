package workflow

import (
	"time"

	"github.com/fiscalclass/engine/pkg/agents"
)

// Node binds one Agent to the retry/timeout policy it runs under.
type Node struct {
	Agent   agents.Agent
	Retry   BackoffPolicy
	Timeout time.Duration
}

// Flow is an ordered list of Nodes a State passes through. The same Flow
// value serves both workflow variants; ConfirmationFlow and
// DeterminationFlow below only differ in the State.ForceDetermine seed,
// not in node composition (spec §4.5: "ConfirmationFlow/Determination
// Flow sharing nodes").
type Flow struct {
	Name  string
	Nodes []Node
}

const (
	defaultBaseMs      = 200
	defaultMaxMs       = 5000
	defaultMaxJitterMs = 250
	defaultMaxAttempts = 3
)

func defaultRetry() BackoffPolicy {
	return BackoffPolicy{BaseMs: defaultBaseMs, MaxMs: defaultMaxMs, MaxJitterMs: defaultMaxJitterMs, MaxAttempts: defaultMaxAttempts}
}

// NewFlow assembles the shared enrichment → ncm → cest → reconciliation
// node sequence (spec §4.4, §4.5). perNodeTimeout applies uniformly;
// callers needing per-node overrides can mutate the returned Flow.
func NewFlow(name string, perNodeTimeout time.Duration, enrichment, ncm, cest, reconciliation agents.Agent) Flow {
	retry := defaultRetry()
	return Flow{
		Name: name,
		Nodes: []Node{
			{Agent: enrichment, Retry: retry, Timeout: perNodeTimeout},
			{Agent: ncm, Retry: retry, Timeout: perNodeTimeout},
			{Agent: cest, Retry: retry, Timeout: perNodeTimeout},
			{Agent: reconciliation, Retry: defaultRetry(), Timeout: perNodeTimeout},
		},
	}
}

// ConfirmationFlow runs a product that already carries a declared
// NCM/CEST through the shared nodes without forcing Determine mode.
func ConfirmationFlow(perNodeTimeout time.Duration, enrichment, ncm, cest, reconciliation agents.Agent) Flow {
	return NewFlow("confirmation", perNodeTimeout, enrichment, ncm, cest, reconciliation)
}

// DeterminationFlow runs the same nodes but the caller is expected to
// seed State.ForceDetermine = true, so NCMAgent never attempts Validate
// mode even if a declared code happens to be present.
func DeterminationFlow(perNodeTimeout time.Duration, enrichment, ncm, cest, reconciliation agents.Agent) Flow {
	return NewFlow("determination", perNodeTimeout, enrichment, ncm, cest, reconciliation)
}
