// Package audit is the append-only evidence store: one AuditStep row per
// node execution, and the query surface an investigator uses to replay
// how a Classification was reached (spec §3, §4.6).
package audit

import (
	"encoding/json"
	"time"

	"github.com/fiscalclass/engine/pkg/agents"
)

// StepStatus is the terminal outcome of one node attempt.
type StepStatus string

const (
	StepOK        StepStatus = "OK"
	StepError     StepStatus = "ERROR"
	StepCancelled StepStatus = "CANCELLED"
	StepTimeout   StepStatus = "TIMEOUT"
)

// AuditStep is one immutable record of a single agent node's execution,
// per spec §3's AuditStep data model entry.
type AuditStep struct {
	StepID           string          `json:"step_id" db:"step_id"`
	ClassificationID string          `json:"classification_id" db:"classification_id"`
	ProductID        string          `json:"product_id" db:"product_id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	Agent            agents.Name     `json:"agent" db:"agent"`
	StepIndex        int             `json:"step_index" db:"step_index"`
	AttemptIndex     int             `json:"attempt_index" db:"attempt_index"`
	Status           StepStatus      `json:"status" db:"status"`
	InputSnapshot    json.RawMessage `json:"input_snapshot" db:"input_snapshot"`
	OutputSnapshot   json.RawMessage `json:"output_snapshot" db:"output_snapshot"`
	PromptID         string          `json:"prompt_id" db:"prompt_id"`
	ModelID          string          `json:"model_id,omitempty" db:"model_id"`
	RetrievedEvidence json.RawMessage `json:"retrieved_evidence,omitempty" db:"retrieved_evidence"`
	Justification    string          `json:"justification,omitempty" db:"justification"`
	// Degraded records that the retrieval call feeding this step missed
	// one or more per-mode deadlines and proceeded on partial evidence
	// (spec §4.2).
	Degraded         bool            `json:"degraded,omitempty" db:"degraded"`
	DurationMs       int64           `json:"duration_ms" db:"duration_ms"`
	Error            string          `json:"error,omitempty" db:"error"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
