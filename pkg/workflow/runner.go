package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fiscalclass/engine/pkg/agents"
	"github.com/fiscalclass/engine/pkg/audit"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

// Toolbox is the subset of retrieval.Toolbox the runner needs, so tests
// can substitute a fake without constructing real Sources.
type Toolbox interface {
	Retrieve(ctx context.Context, q retrieval.Query, modes []retrieval.Mode, goldenShortCircuit float64) ([]retrieval.Evidence, bool, error)
}

// Runner executes a Flow for one classification run: it owns retrieval,
// retry/backoff, per-node timeouts, idempotent audit writes, and
// cooperative cancellation (spec §4.5).
type Runner struct {
	toolbox            Toolbox
	auditStore         audit.Store
	auditLogger        audit.Logger
	goldenShortCircuit float64
	perItemTimeout     time.Duration
}

func NewRunner(toolbox Toolbox, store audit.Store, logger audit.Logger, goldenShortCircuit float64, perItemTimeout time.Duration) *Runner {
	return &Runner{
		toolbox:            toolbox,
		auditStore:         store,
		auditLogger:        logger,
		goldenShortCircuit: goldenShortCircuit,
		perItemTimeout:     perItemTimeout,
	}
}

// Run executes every Node in flow against s in order, writing one
// AuditStep per attempt. classificationID scopes the audit trail for
// this run; it must be stable across a resume so idempotency can key off
// it.
func (r *Runner) Run(ctx context.Context, flow Flow, classificationID string, s agents.State) (agents.State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.perItemTimeout)
	defer cancel()

	for i, node := range flow.Nodes {
		select {
		case <-ctx.Done():
			r.recordCancelled(ctx, classificationID, s, node, i)
			return s, &CancellationError{Node: string(node.Agent.Name())}
		default:
		}

		next, err := r.runNodeWithRetry(ctx, node, i, classificationID, s)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

func (r *Runner) runNodeWithRetry(ctx context.Context, node Node, stepIndex int, classificationID string, s agents.State) (agents.State, error) {
	var lastErr error
	maxAttempts := node.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(BackoffParams{
				ClassificationID: classificationID,
				NodeName:         string(node.Agent.Name()),
				AttemptIndex:     attempt,
			}, node.Retry)
			select {
			case <-ctx.Done():
				r.recordCancelled(ctx, classificationID, s, node, stepIndex)
				return s, &CancellationError{Node: string(node.Agent.Name())}
			case <-time.After(delay):
			}
		}

		nodeCtx := ctx
		var nodeCancel context.CancelFunc
		if node.Timeout > 0 {
			nodeCtx, nodeCancel = context.WithTimeout(ctx, node.Timeout)
		}

		start := time.Now()
		next, evidence, degraded, err := r.runOnce(nodeCtx, node, s)
		duration := time.Since(start)
		if nodeCancel != nil {
			nodeCancel()
		}

		step := audit.AuditStep{
			StepID:           uuid.NewString(),
			ClassificationID: classificationID,
			ProductID:        s.Product.ProductID,
			TenantID:         s.Product.TenantID,
			Agent:            node.Agent.Name(),
			StepIndex:        stepIndex,
			AttemptIndex:     attempt,
			PromptID:         node.Agent.PromptVersion(),
			DurationMs:       duration.Milliseconds(),
			InputSnapshot:    marshalState(s),
			RetrievedEvidence: marshalEvidence(evidence),
			Degraded:         degraded,
			ModelID:          next.LastModelID,
			Justification:    next.LastJustification,
		}

		if err == nil {
			step.Status = audit.StepOK
			step.OutputSnapshot = marshalState(next)
			r.persist(ctx, step)
			return next, nil
		}

		lastErr = err
		step.Error = err.Error()
		if ctx.Err() != nil {
			step.Status = audit.StepTimeout
			r.persist(ctx, step)
			return s, fmt.Errorf("workflow: node %s timed out: %w", node.Agent.Name(), ctx.Err())
		}
		step.Status = audit.StepError
		r.persist(ctx, step)
	}
	return s, &PostconditionError{Node: string(flowNodeName(node)), Cause: lastErr}
}

func (r *Runner) runOnce(ctx context.Context, node Node, s agents.State) (agents.State, []retrieval.Evidence, bool, error) {
	plan := node.Agent.RetrievalPlan(s)
	var evidence []retrieval.Evidence
	var degraded bool
	if len(plan.Modes) > 0 {
		ev, deg, err := r.toolbox.Retrieve(ctx, retrieval.Query{
			Text:    s.Product.DescriptionRaw,
			Filters: plan.Filters,
			TopK:    plan.TopK,
		}, plan.Modes, r.goldenShortCircuit)
		if err != nil {
			return s, nil, deg, err
		}
		evidence = ev
		degraded = deg
		s.Evidence = append(append([]retrieval.Evidence{}, s.Evidence...), ev...)
	}
	next, err := node.Agent.Process(ctx, s, evidence)
	return next, evidence, degraded, err
}

func (r *Runner) recordCancelled(ctx context.Context, classificationID string, s agents.State, node Node, stepIndex int) {
	r.persist(ctx, audit.AuditStep{
		StepID:           uuid.NewString(),
		ClassificationID: classificationID,
		ProductID:        s.Product.ProductID,
		TenantID:         s.Product.TenantID,
		Agent:            node.Agent.Name(),
		StepIndex:        stepIndex,
		Status:           audit.StepCancelled,
		PromptID:         node.Agent.PromptVersion(),
		InputSnapshot:    marshalState(s),
	})
}

// persist writes the step to the durable store and mirrors it to the
// structured logger. Neither failure aborts the classification run in
// progress; a write failure here is itself logged by the caller's
// surrounding operational logging.
func (r *Runner) persist(ctx context.Context, step audit.AuditStep) {
	if r.auditLogger != nil {
		_ = r.auditLogger.Record(step)
	}
	if r.auditStore != nil {
		_ = r.auditStore.Append(ctx, step)
	}
}

func flowNodeName(node Node) string { return string(node.Agent.Name()) }

func marshalState(s agents.State) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func marshalEvidence(ev []retrieval.Evidence) json.RawMessage {
	b, err := json.Marshal(ev)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
