package goldenset

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fiscalclass/engine/pkg/kb"
)

// goldenSetRow mirrors golden_set's nullable columns for sqlx scanning;
// see kb.PostgresSource for the shared schema definition.
type goldenSetRow struct {
	EntryID             string         `db:"entry_id"`
	DescriptionRaw      string         `db:"description_raw"`
	DescriptionEnriched string         `db:"description_enriched"`
	GTIN                string         `db:"gtin"`
	NCMCorrect          string         `db:"ncm_correct"`
	CESTCorrect         string         `db:"cest_correct"`
	SourceUser          string         `db:"source_user"`
	SourceTenant        string         `db:"source_tenant"`
	Version             int            `db:"version"`
	Supersedes          sql.NullString `db:"supersedes"`
	Active              bool           `db:"active"`
}

func (row goldenSetRow) toEntry() kb.GoldenSetEntry {
	g := kb.GoldenSetEntry{
		EntryID:             row.EntryID,
		DescriptionRaw:      row.DescriptionRaw,
		DescriptionEnriched: row.DescriptionEnriched,
		GTIN:                row.GTIN,
		NCMCorrect:          row.NCMCorrect,
		CESTCorrect:         row.CESTCorrect,
		SourceUser:          row.SourceUser,
		SourceTenant:        row.SourceTenant,
		Version:             row.Version,
		Active:              row.Active,
	}
	if row.Supersedes.Valid {
		v := row.Supersedes.String
		g.Supersedes = &v
	}
	return g
}

// PostgresStore implements Store against the same golden_set table
// kb.PostgresSource reads for retrieval, so a promotion is visible to the
// next KB reload without a separate migration.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing sqlx handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) ActiveFor(ctx context.Context, descriptionEnriched, gtin string) (*kb.GoldenSetEntry, error) {
	var row goldenSetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT entry_id, description_raw, description_enriched, COALESCE(gtin, '') AS gtin,
		       ncm_correct, COALESCE(cest_correct, '') AS cest_correct, source_user, source_tenant,
		       version, supersedes, active
		FROM golden_set
		WHERE active AND description_enriched = $1 AND ($2 = '' OR COALESCE(gtin, '') = $2)
		ORDER BY version DESC LIMIT 1`,
		descriptionEnriched, gtin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("goldenset: active lookup: %w", err)
	}
	entry := row.toEntry()
	return &entry, nil
}

func (s *PostgresStore) Insert(ctx context.Context, entry kb.GoldenSetEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO golden_set
			(entry_id, description_raw, description_enriched, gtin, ncm_correct, cest_correct,
			 source_user, source_tenant, version, supersedes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.EntryID, entry.DescriptionRaw, entry.DescriptionEnriched, nullIfEmpty(entry.GTIN),
		entry.NCMCorrect, nullIfEmpty(entry.CESTCorrect), entry.SourceUser, entry.SourceTenant,
		entry.Version, entry.Supersedes, entry.Active,
	)
	if err != nil {
		return fmt.Errorf("goldenset: insert %s: %w", entry.EntryID, err)
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE golden_set SET active = false WHERE entry_id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("goldenset: deactivate %s: %w", entryID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
