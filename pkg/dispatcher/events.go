package dispatcher

import "github.com/fiscalclass/engine/pkg/classification"

// EventKind identifies the kind of progress event emitted by a Batch run.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventSkipped   EventKind = "skipped" // already classified, resume without force_reclassify
	EventFinished  EventKind = "finished"
)

// Event is one progress notification emitted on Batch.Events() as jobs are
// picked up and completed, so a caller (CLI progress bar, HTTP polling
// endpoint) can observe a long-running batch without blocking on it.
type Event struct {
	Kind             EventKind
	ClassificationID string
	ProductID        string
	TenantID         string
	Status           classification.Status
	Err              error
	Completed        int
	Total            int
}
