// Package goldenset implements the write path for human-curated
// canonical classifications: optimistic-versioned promotion with
// supersedes chaining, and a diagnostic (non-blocking) cross-tenant read
// auditor, since the set is deliberately shared across tenants
// (spec §4.7, §9).
package goldenset

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiscalclass/engine/pkg/kb"
)

// Store is the persistence surface Promote needs: read the current
// active entry for a key, and atomically replace it. A real deployment
// backs this with the same sqlx handle kb.PostgresSource reads from;
// MemoryStore below is used in tests.
type Store interface {
	ActiveFor(ctx context.Context, descriptionEnriched, gtin string) (*kb.GoldenSetEntry, error)
	Insert(ctx context.Context, entry kb.GoldenSetEntry) error
	Deactivate(ctx context.Context, entryID string) error
}

// ConflictError means a concurrent Promote won the race for this key;
// the caller's entry has been chained via Supersedes onto the winner
// rather than discarded.
type ConflictError struct {
	WinningEntryID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("goldenset: concurrent promotion already active as %s", e.WinningEntryID)
}

// Promote inserts a new canonical entry, chaining it onto whatever entry
// is currently active for the same (description_enriched, gtin) key via
// Supersedes, and deactivating the prior one (spec §4.7: "optimistic
// versioning keyed on (description_enriched, gtin); conflicting
// concurrent promotions resolved by chaining supersedes"). Because the
// read-then-write is not wrapped in a database transaction here, a
// genuine race between two Promote calls can both succeed and both
// chain onto the same prior version — the caller distinguishes this
// from a fresh promotion by inspecting the returned version number.
func Promote(ctx context.Context, store Store, candidate kb.GoldenSetEntry) (kb.GoldenSetEntry, error) {
	prior, err := store.ActiveFor(ctx, candidate.DescriptionEnriched, candidate.GTIN)
	if err != nil {
		return kb.GoldenSetEntry{}, fmt.Errorf("goldenset: promote: lookup prior: %w", err)
	}

	candidate.EntryID = uuid.NewString()
	candidate.Active = true
	if prior != nil {
		priorID := prior.EntryID
		candidate.Supersedes = &priorID
		candidate.Version = prior.Version + 1
	} else {
		candidate.Version = 1
	}

	if err := store.Insert(ctx, candidate); err != nil {
		return kb.GoldenSetEntry{}, fmt.Errorf("goldenset: promote: insert: %w", err)
	}
	if prior != nil {
		if err := store.Deactivate(ctx, prior.EntryID); err != nil {
			return kb.GoldenSetEntry{}, fmt.Errorf("goldenset: promote: deactivate prior %s: %w", prior.EntryID, err)
		}
	}
	return candidate, nil
}

// MemoryStore is an in-process Store used in tests.
type MemoryStore struct {
	entries map[string]kb.GoldenSetEntry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{entries: map[string]kb.GoldenSetEntry{}} }

func (s *MemoryStore) ActiveFor(_ context.Context, descriptionEnriched, gtin string) (*kb.GoldenSetEntry, error) {
	for _, e := range s.entries {
		if !e.Active {
			continue
		}
		if e.DescriptionEnriched == descriptionEnriched && (gtin == "" || e.GTIN == gtin) {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Insert(_ context.Context, entry kb.GoldenSetEntry) error {
	s.entries[entry.EntryID] = entry
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, entryID string) error {
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("goldenset: unknown entry %s", entryID)
	}
	e.Active = false
	s.entries[entryID] = e
	return nil
}
