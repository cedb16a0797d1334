package goldenset

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/kb"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewPostgresStore(sqlxDB), mock, func() { _ = db.Close() }
}

func TestPostgresStore_ActiveForFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{
		"entry_id", "description_raw", "description_enriched", "gtin",
		"ncm_correct", "cest_correct", "source_user", "source_tenant",
		"version", "supersedes", "active",
	}).AddRow("g1", "raw desc", "enriched desc", "", "85171231", "", "user1", "tenant1", 2, nil, true)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT entry_id, description_raw, description_enriched, COALESCE(gtin, '') AS gtin")).
		WithArgs("enriched desc", "").
		WillReturnRows(rows)

	entry, err := store.ActiveFor(context.Background(), "enriched desc", "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "g1", entry.EntryID)
	assert.Equal(t, 2, entry.Version)
}

func TestPostgresStore_ActiveForNotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	emptyRows := sqlmock.NewRows([]string{
		"entry_id", "description_raw", "description_enriched", "gtin",
		"ncm_correct", "cest_correct", "source_user", "source_tenant",
		"version", "supersedes", "active",
	})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT entry_id, description_raw, description_enriched, COALESCE(gtin, '') AS gtin")).
		WithArgs("missing desc", "").
		WillReturnRows(emptyRows)

	entry, err := store.ActiveFor(context.Background(), "missing desc", "")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO golden_set")).
		WithArgs("g2", "raw", "enriched", nil, "85171231", nil, "user1", "tenant1", 1, (*string)(nil), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), kb.GoldenSetEntry{
		EntryID: "g2", DescriptionRaw: "raw", DescriptionEnriched: "enriched",
		NCMCorrect: "85171231", SourceUser: "user1", SourceTenant: "tenant1",
		Version: 1, Active: true,
	})
	require.NoError(t, err)
}

func TestPostgresStore_Deactivate(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE golden_set SET active = false WHERE entry_id = $1")).
		WithArgs("g1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Deactivate(context.Background(), "g1"))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}
