package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fiscalclass/engine/pkg/agents"
)

// Store persists AuditStep rows and exposes the query surface an
// investigator or a UI uses to reconstruct a decision's full trail.
type Store interface {
	Append(ctx context.Context, step AuditStep) error
	ByClassification(ctx context.Context, classificationID string) ([]AuditStep, error)
	ByProduct(ctx context.Context, productID string) ([]AuditStep, error)
	ByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]AuditStep, error)
	ByAgentStatus(ctx context.Context, tenantID string, agent string, status StepStatus) ([]AuditStep, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_steps (
	step_id TEXT PRIMARY KEY,
	classification_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	step_index INT NOT NULL,
	attempt_index INT NOT NULL,
	status TEXT NOT NULL,
	input_snapshot JSONB,
	output_snapshot JSONB,
	prompt_id TEXT NOT NULL,
	model_id TEXT,
	retrieved_evidence JSONB,
	justification TEXT,
	degraded BOOLEAN NOT NULL DEFAULT false,
	duration_ms BIGINT NOT NULL,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_classification ON audit_steps (classification_id, step_index);
CREATE INDEX IF NOT EXISTS idx_audit_product ON audit_steps (product_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_steps (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_agent_status ON audit_steps (tenant_id, agent, status);
`

// PostgresStore is the durable, append-only AuditStep trail (spec §4.6:
// "transactional per step" — each Append is a single-statement insert,
// so there is nothing to roll back mid-step).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, step AuditStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_steps
			(step_id, classification_id, product_id, tenant_id, agent, step_index, attempt_index,
			 status, input_snapshot, output_snapshot, prompt_id, model_id, retrieved_evidence,
			 justification, degraded, duration_ms, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		step.StepID, step.ClassificationID, step.ProductID, step.TenantID, string(step.Agent),
		step.StepIndex, step.AttemptIndex, step.Status, step.InputSnapshot, step.OutputSnapshot,
		step.PromptID, nullIfEmpty(step.ModelID), step.RetrievedEvidence, step.Justification,
		step.Degraded, step.DurationMs, nullIfEmpty(step.Error), step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", step.StepID, err)
	}
	return nil
}

const selectColumns = `
	SELECT step_id, classification_id, product_id, tenant_id, agent, step_index, attempt_index,
	       status, COALESCE(input_snapshot, 'null'), COALESCE(output_snapshot, 'null'),
	       prompt_id, COALESCE(model_id, ''), COALESCE(retrieved_evidence, 'null'),
	       COALESCE(justification, ''), degraded, duration_ms, COALESCE(error, ''), created_at
	FROM audit_steps
`

func (s *PostgresStore) ByClassification(ctx context.Context, classificationID string) ([]AuditStep, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE classification_id = $1 ORDER BY step_index ASC", classificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *PostgresStore) ByProduct(ctx context.Context, productID string) ([]AuditStep, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE product_id = $1 ORDER BY created_at ASC", productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *PostgresStore) ByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]AuditStep, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at ASC",
		tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *PostgresStore) ByAgentStatus(ctx context.Context, tenantID, agent string, status StepStatus) ([]AuditStep, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE tenant_id = $1 AND agent = $2 AND status = $3 ORDER BY created_at ASC",
		tenantID, agent, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]AuditStep, error) {
	out := make([]AuditStep, 0)
	for rows.Next() {
		var st AuditStep
		var agent, status string
		if err := rows.Scan(&st.StepID, &st.ClassificationID, &st.ProductID, &st.TenantID, &agent,
			&st.StepIndex, &st.AttemptIndex, &status, &st.InputSnapshot, &st.OutputSnapshot,
			&st.PromptID, &st.ModelID, &st.RetrievedEvidence, &st.Justification, &st.Degraded,
			&st.DurationMs, &st.Error, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Agent = agents.Name(agent)
		st.Status = StepStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
