package classification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists Classification records. Writes are append-only:
// Write never updates an existing row, it always inserts a new one.
type Repository interface {
	Write(ctx context.Context, c Classification) error
	Get(ctx context.Context, classificationID string) (Classification, error)
	LatestForProduct(ctx context.Context, productID string) (Classification, error)
	HistoryForProduct(ctx context.Context, productID string) ([]Classification, error)
	ByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]Classification, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS classifications (
	classification_id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	group_id TEXT,
	ncm_final TEXT NOT NULL,
	cest_final TEXT NOT NULL,
	confidence_ncm DOUBLE PRECISION NOT NULL,
	confidence_cest DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	flow_kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	previous_id TEXT,
	golden_set_ref TEXT
);
CREATE INDEX IF NOT EXISTS idx_classifications_product ON classifications (product_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_classifications_tenant_time ON classifications (tenant_id, created_at);
`

// PostgresRepository is the durable, append-only Classification store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Init creates the schema if it does not already exist.
func (r *PostgresRepository) Init(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Write inserts a new, immutable Classification row. Corrections must be
// passed in as a fresh Classification with PreviousID set; this method
// never updates an existing row.
func (r *PostgresRepository) Write(ctx context.Context, c Classification) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO classifications
			(classification_id, product_id, tenant_id, group_id, ncm_final, cest_final,
			 confidence_ncm, confidence_cest, status, flow_kind, created_at, previous_id, golden_set_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		c.ClassificationID, c.ProductID, c.TenantID, nullIfEmpty(c.GroupID),
		c.NCMFinal, c.CESTFinal, c.ConfidenceNCM, c.ConfidenceCEST,
		c.Status, c.FlowKind, c.CreatedAt, nullIfEmpty(c.PreviousID), c.GoldenSetRef,
	)
	if err != nil {
		return fmt.Errorf("classification: write %s: %w", c.ClassificationID, err)
	}
	return nil
}

// Get returns one Classification by id.
func (r *PostgresRepository) Get(ctx context.Context, classificationID string) (Classification, error) {
	row := r.pool.QueryRow(ctx, selectColumns+" WHERE classification_id = $1", classificationID)
	return scanOne(row)
}

// LatestForProduct returns the most recent Classification for a product:
// the one with the latest CreatedAt. PreviousID is not consulted.
func (r *PostgresRepository) LatestForProduct(ctx context.Context, productID string) (Classification, error) {
	row := r.pool.QueryRow(ctx, selectColumns+" WHERE product_id = $1 ORDER BY created_at DESC LIMIT 1", productID)
	return scanOne(row)
}

// HistoryForProduct returns every Classification ever written for a product,
// oldest first.
func (r *PostgresRepository) HistoryForProduct(ctx context.Context, productID string) ([]Classification, error) {
	rows, err := r.pool.Query(ctx, selectColumns+" WHERE product_id = $1 ORDER BY created_at ASC", productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ByTenantRange returns all Classifications for a tenant within [from, to).
func (r *PostgresRepository) ByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]Classification, error) {
	rows, err := r.pool.Query(ctx,
		selectColumns+" WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at ASC",
		tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

const selectColumns = `
	SELECT classification_id, product_id, tenant_id, COALESCE(group_id, ''), ncm_final, cest_final,
	       confidence_ncm, confidence_cest, status, flow_kind, created_at, COALESCE(previous_id, ''), golden_set_ref
	FROM classifications
`

func scanOne(row pgx.Row) (Classification, error) {
	var c Classification
	err := row.Scan(&c.ClassificationID, &c.ProductID, &c.TenantID, &c.GroupID, &c.NCMFinal, &c.CESTFinal,
		&c.ConfidenceNCM, &c.ConfidenceCEST, &c.Status, &c.FlowKind, &c.CreatedAt, &c.PreviousID, &c.GoldenSetRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Classification{}, ErrNotFound
		}
		return Classification{}, err
	}
	return c, nil
}

func scanAll(rows pgx.Rows) ([]Classification, error) {
	out := make([]Classification, 0)
	for rows.Next() {
		var c Classification
		if err := rows.Scan(&c.ClassificationID, &c.ProductID, &c.TenantID, &c.GroupID, &c.NCMFinal, &c.CESTFinal,
			&c.ConfidenceNCM, &c.ConfidenceCEST, &c.Status, &c.FlowKind, &c.CreatedAt, &c.PreviousID, &c.GoldenSetRef); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
