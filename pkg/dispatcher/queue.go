// Package dispatcher runs a bounded-concurrency batch of classification
// jobs against a workflow.Runner: a deterministic priority queue feeds a
// fixed worker pool, progress is reported on a channel, and a restarted
// batch resumes by skipping products that already have a non-error,
// non-stale Classification (spec §4.8).
package dispatcher

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/fiscalclass/engine/pkg/classification"
)

// Job is one unit of dispatcher work: classify a single product under a
// given flow. Lower Priority runs first; ties break on SortKey, then on
// SequenceNum, mirroring the teacher's kernel.SchedulerEvent ordering.
type Job struct {
	ClassificationID string                              `json:"classification_id"`
	Product          classification.Product              `json:"product"`
	FlowKind         classification.FlowKind             `json:"flow_kind"`
	ForceDetermine   bool                                `json:"force_determine"`
	Group            *classification.AggregationGroup    `json:"group,omitempty"`
	Priority         int                                 `json:"priority"`
	SequenceNum      uint64                              `json:"sequence_num"`
	SortKey          string                              `json:"sort_key"`
}

// jobHeap implements heap.Interface over *Job, ordered the same way the
// teacher's schedulerHeap orders *SchedulerEvent: deterministically, with
// no dependence on wall-clock arrival order beyond the assigned sequence.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if h[i].SortKey != h[j].SortKey {
		return h[i].SortKey < h[j].SortKey
	}
	return h[i].SequenceNum < h[j].SequenceNum
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Queue is a deterministic, in-memory priority queue of Jobs. Unlike the
// teacher's DeterministicScheduler it never blocks on an empty queue —
// the worker pool drains it until empty and stops, matching a bounded
// batch run rather than a long-lived event loop.
type Queue struct {
	mu      sync.Mutex
	jobs    jobHeap
	nextSeq uint64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{jobs: make(jobHeap, 0), nextSeq: 1}
	heap.Init(&q.jobs)
	return q
}

// Push assigns a sequence number and sort key (if unset) and adds job to
// the queue.
func (q *Queue) Push(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.SequenceNum = q.nextSeq
	q.nextSeq++
	if job.SortKey == "" {
		job.SortKey = sortKey(job)
	}
	jobCopy := job
	heap.Push(&q.jobs, &jobCopy)
}

// Pop removes and returns the next job in deterministic order, or false
// if the queue is empty.
func (q *Queue) Pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Len() == 0 {
		return Job{}, false
	}
	j := heap.Pop(&q.jobs).(*Job)
	return *j, true
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// SnapshotHash returns a deterministic hash of the pending queue state,
// for replay/debugging (spec §4.8), adapted from the teacher's
// DeterministicScheduler.SnapshotHash.
func (q *Queue) SnapshotHash() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, len(q.jobs))
	copy(jobs, q.jobs)
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority < jobs[j].Priority
		}
		if jobs[i].SortKey != jobs[j].SortKey {
			return jobs[i].SortKey < jobs[j].SortKey
		}
		return jobs[i].SequenceNum < jobs[j].SequenceNum
	})

	// SequenceNum only records push order, so it is left out of the hash.
	pending := make([]Job, len(jobs))
	for i, j := range jobs {
		pending[i] = *j
		pending[i].SequenceNum = 0
	}
	data, _ := json.Marshal(pending)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func sortKey(job Job) string {
	data, _ := json.Marshal(map[string]string{
		"classification_id": job.ClassificationID,
		"product_id":        job.Product.ProductID,
		"tenant_id":         job.Product.TenantID,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:16])
}
