package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fiscalclass/engine/pkg/agents"
	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/workflow"
)

// Filter narrows which products a batch job considers; callers supply it
// directly rather than the dispatcher understanding a query language.
type Filter func(classification.Product) bool

// Request describes one batch job (spec §4.8: "{tenant_id, filter,
// limit|all, resume_from}").
type Request struct {
	TenantID        string
	Products        []classification.Product
	FlowKind        classification.FlowKind
	Filter          Filter
	Limit           int    // 0 means all
	ResumeFrom      string // skip products with ProductID < ResumeFrom, lexicographically
	ForceReclassify bool
}

// StaleAfter is how old a prior Classification must be before a resumed
// batch reclassifies it even without ForceReclassify. The spec leaves
// "stale" undefined (§4.8); 30 days matches the teacher's default
// reconciliation-window constants elsewhere in the corpus.
const StaleAfter = 30 * 24 * time.Hour

// Outcome is the terminal summary of a Batch run (spec §4.8: "the batch
// completes in partial_success when at least one item succeeds").
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailure        Outcome = "failure"
	OutcomeEmpty          Outcome = "empty"
)

// Runner is the subset of workflow.Runner a Batch needs, so tests can
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, flow workflow.Flow, classificationID string, s agents.State) (agents.State, error)
}

// Aggregator is the subset of agents.AggregationAgent a Batch needs, so
// tests can substitute a fake. It is batch-scoped rather than per-item,
// so it runs once in Enqueue against the whole candidate set rather than
// per Job like the other four agents (spec §4.4.2, §4.8).
type Aggregator interface {
	Run(ctx context.Context, products []classification.Product) (agents.Report, error)
}

// FlowProvider builds the agents for a flow kind fresh per job; the
// dispatcher does not own agent construction.
type FlowProvider func(kind classification.FlowKind) workflow.Flow

// Batch runs one Request: a deterministic queue feeds a bounded worker
// pool built from golang.org/x/sync/errgroup, classification outcomes are
// written through classification.Repository, and progress is reported on
// a buffered channel (spec §4.8, §5).
type Batch struct {
	runner     Runner
	flows      FlowProvider
	repo       classification.Repository
	aggregator Aggregator
	workers    int
	events     chan Event
	queue      *Queue
	total      int
	done       int32
	succeed    int32
	fail       int32
	skip       int32
	report     agents.Report
	mu         sync.Mutex
}

// NewBatch wires a Batch. workers bounds concurrency (spec §5 default
// 4-8); 0 defaults to 4.
func NewBatch(runner Runner, flows FlowProvider, repo classification.Repository, workers int) *Batch {
	if workers <= 0 {
		workers = 4
	}
	return &Batch{
		runner:  runner,
		flows:   flows,
		repo:    repo,
		workers: workers,
		events:  make(chan Event, 256),
		queue:   NewQueue(),
	}
}

// Events returns the channel progress notifications are sent on. The
// caller must drain it; Run closes it once every job has been processed.
func (b *Batch) Events() <-chan Event { return b.events }

// SetAggregator wires a batch-scoped Aggregator into Enqueue. Without
// one, every product is classified on its own with no Group assigned —
// the behaviour older callers and tests already depend on.
func (b *Batch) SetAggregator(a Aggregator) { b.aggregator = a }

// Report returns the AggregationReport produced by the most recent
// Enqueue call, or a zero Report if no Aggregator is wired or Enqueue
// has not run yet (spec §4.4.2, §6: invariant "sum(members) = |input
// products|" is checked against this Report).
func (b *Batch) Report() agents.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}

// Enqueue builds deterministic Jobs for req and loads them into the
// queue, applying Filter, Limit, ResumeFrom, and resume-skip semantics.
// It returns the number of jobs actually enqueued (post-filter,
// post-skip).
func (b *Batch) Enqueue(ctx context.Context, req Request) (int, error) {
	candidates := make([]classification.Product, 0, len(req.Products))
	for _, p := range req.Products {
		if req.Filter != nil && !req.Filter(p) {
			continue
		}
		if req.ResumeFrom != "" && p.ProductID < req.ResumeFrom {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ProductID < candidates[j].ProductID })
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	groupByProduct, err := b.runAggregation(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: aggregation pass: %w", err)
	}

	enqueued := 0
	for _, p := range candidates {
		if !req.ForceReclassify {
			skip, err := b.shouldSkip(ctx, p.ProductID)
			if err != nil {
				return enqueued, fmt.Errorf("dispatcher: resume check for %s: %w", p.ProductID, err)
			}
			if skip {
				atomic.AddInt32(&b.skip, 1)
				continue
			}
		}
		b.queue.Push(Job{
			ClassificationID: uuid.NewString(),
			Product:          p,
			FlowKind:         req.FlowKind,
			ForceDetermine:   req.FlowKind == classification.FlowDetermination,
			Group:            groupByProduct[p.ProductID],
		})
		enqueued++
	}

	b.mu.Lock()
	b.total += enqueued
	b.mu.Unlock()
	return enqueued, nil
}

// runAggregation groups candidates via the wired Aggregator, stores the
// resulting Report for Report(), and returns a lookup from ProductID to
// the AggregationGroup each job should carry into its State (spec
// §4.4.2: the dispatcher computes batch-scoped groups, agents never do).
// A nil Aggregator leaves every product ungrouped, matching prior
// behaviour.
func (b *Batch) runAggregation(ctx context.Context, candidates []classification.Product) (map[string]*classification.AggregationGroup, error) {
	if b.aggregator == nil || len(candidates) == 0 {
		return nil, nil
	}
	report, err := b.aggregator.Run(ctx, candidates)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.report = report
	b.mu.Unlock()

	groupsByID := make(map[string]classification.AggregationGroup, len(report.Groups))
	for _, g := range report.Groups {
		groupsByID[g.GroupID] = g
	}
	byProduct := make(map[string]*classification.AggregationGroup, len(report.ProductToGroup))
	for productID, groupID := range report.ProductToGroup {
		if g, ok := groupsByID[groupID]; ok {
			gCopy := g
			byProduct[productID] = &gCopy
		}
	}
	return byProduct, nil
}

// shouldSkip implements the resume rule: skip a product that already has
// a Classification whose Status is neither ERROR nor older than
// StaleAfter (spec §4.8).
func (b *Batch) shouldSkip(ctx context.Context, productID string) (bool, error) {
	prior, err := b.repo.LatestForProduct(ctx, productID)
	if err != nil {
		if err == classification.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if prior.Status == classification.StatusError {
		return false, nil
	}
	if time.Since(prior.CreatedAt) > StaleAfter {
		return false, nil
	}
	return true, nil
}

// Run drains the queue through b.workers concurrent goroutines until
// empty, writing a Classification per successful item and reporting
// progress on Events(). It returns the batch Outcome; a failing item
// never aborts the batch (spec §4.8's failure policy).
func (b *Batch) Run(ctx context.Context) (Outcome, error) {
	defer close(b.events)

	if b.queue.Len() == 0 {
		return OutcomeEmpty, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			return b.worker(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return OutcomeFailure, err
	}

	succeed := atomic.LoadInt32(&b.succeed)
	fail := atomic.LoadInt32(&b.fail)
	switch {
	case fail == 0:
		return OutcomeSuccess, nil
	case succeed > 0:
		return OutcomePartialSuccess, nil
	default:
		return OutcomeFailure, nil
	}
}

func (b *Batch) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, ok := b.queue.Pop()
		if !ok {
			return nil
		}
		b.runJob(ctx, job)
	}
}

func (b *Batch) runJob(ctx context.Context, job Job) {
	b.emit(Event{Kind: EventStarted, ClassificationID: job.ClassificationID, ProductID: job.Product.ProductID, TenantID: job.Product.TenantID})

	flow := b.flows(job.FlowKind)
	state := agents.State{
		Product:        job.Product,
		FlowKind:       job.FlowKind,
		ForceDetermine: job.ForceDetermine,
		Group:          job.Group,
		Now:            time.Now().UTC(),
	}

	final, err := b.runner.Run(ctx, flow, job.ClassificationID, state)
	n := atomic.AddInt32(&b.done, 1)

	if err != nil {
		atomic.AddInt32(&b.fail, 1)
		b.writeErrorClassification(ctx, job, err)
		b.emit(Event{Kind: EventFailed, ClassificationID: job.ClassificationID, ProductID: job.Product.ProductID, TenantID: job.Product.TenantID, Err: err, Completed: int(n), Total: b.total})
		return
	}

	atomic.AddInt32(&b.succeed, 1)
	c := classification.Classification{
		ClassificationID: job.ClassificationID,
		ProductID:        job.Product.ProductID,
		TenantID:         job.Product.TenantID,
		NCMFinal:         final.NCMCandidate,
		CESTFinal:        cestFinal(final),
		ConfidenceNCM:    final.NCMConfidence,
		ConfidenceCEST:   final.CESTConfidence,
		Status:           final.FinalStatus,
		FlowKind:         job.FlowKind,
		CreatedAt:        time.Now().UTC(),
	}
	if final.Group != nil {
		c.GroupID = final.Group.GroupID
	}
	if err := b.repo.Write(ctx, c); err != nil {
		b.emit(Event{Kind: EventFailed, ClassificationID: job.ClassificationID, ProductID: job.Product.ProductID, TenantID: job.Product.TenantID, Err: err, Completed: int(n), Total: b.total})
		return
	}

	b.emit(Event{Kind: EventSucceeded, ClassificationID: job.ClassificationID, ProductID: job.Product.ProductID, TenantID: job.Product.TenantID, Status: c.Status, Completed: int(n), Total: b.total})
}

func (b *Batch) writeErrorClassification(ctx context.Context, job Job, cause error) {
	c := classification.Classification{
		ClassificationID: job.ClassificationID,
		ProductID:        job.Product.ProductID,
		TenantID:         job.Product.TenantID,
		Status:           classification.StatusError,
		FlowKind:         job.FlowKind,
		CreatedAt:        time.Now().UTC(),
	}
	_ = b.repo.Write(ctx, c)
	_ = cause
}

func cestFinal(s agents.State) string {
	if s.CESTNotApplicable {
		return classification.NotApplicable
	}
	return s.CESTCandidate
}

func (b *Batch) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		// buffer full: a slow consumer loses ordering detail, never the
		// whole batch; Run's final Outcome still reflects ground truth.
	}
}
