package kb

import (
	"sort"
	"sync/atomic"
	"time"
)

// Snapshot is the immutable, fully-indexed view of the knowledge base at
// one point in time. Readers only ever see a complete Snapshot: Loader
// builds the next one off to the side and swaps it in atomically, so a
// run in progress never observes a half-loaded KB (spec §4.1, grounded
// on the teacher's policyloader.Loader atomic-bundle-swap pattern).
type Snapshot struct {
	Version   int
	LoadedAt  time.Time
	NCM       map[string]NCMNode // by 8-digit code
	CEST      map[string]CESTRule
	Segments  map[string]Segment
	Examples  []ProductExample
	Golden    []GoldenSetEntry

	byChapter    map[string][]string // chapter -> ncm codes
	rulesByNCM8  map[string][]string // ncm8 -> cest codes; not populated, CESTRulesForNCM scans CEST directly
}

// Empty returns a zero-value Snapshot safe to query (no entries, never nil
// maps), used before the first successful Load.
func Empty() *Snapshot {
	return &Snapshot{
		NCM:      map[string]NCMNode{},
		CEST:     map[string]CESTRule{},
		Segments: map[string]Segment{},
	}
}

func newSnapshot(version int, ncm []NCMNode, cest []CESTRule, seg []Segment, ex []ProductExample, golden []GoldenSetEntry) *Snapshot {
	s := &Snapshot{
		Version:  version,
		LoadedAt: time.Now().UTC(),
		NCM:      make(map[string]NCMNode, len(ncm)),
		CEST:     make(map[string]CESTRule, len(cest)),
		Segments: make(map[string]Segment, len(seg)),
		Examples: ex,
		Golden:   golden,
	}
	for _, n := range ncm {
		s.NCM[n.Code] = n
	}
	byCodePattern := make(map[string]CESTRule, len(cest))
	for _, c := range cest {
		key := c.CEST + "|" + c.Source
		if existing, ok := byCodePattern[c.CEST]; ok {
			byCodePattern[c.CEST] = preferVigente(existing, c)
			continue
		}
		byCodePattern[c.CEST] = c
		_ = key
	}
	for k, c := range byCodePattern {
		s.CEST[k] = c
	}
	for _, sg := range seg {
		s.Segments[sg.ID] = sg
	}
	s.byChapter = map[string][]string{}
	for code, n := range s.NCM {
		s.byChapter[n.Chapter] = append(s.byChapter[n.Chapter], code)
	}
	for ch := range s.byChapter {
		sort.Strings(s.byChapter[ch])
	}
	return s
}

// NCMByPrefix returns every loaded NCM code sharing the given prefix,
// using the chapter bucket as a coarse index-friendly range scan rather
// than a full-table LIKE scan (spec §4.2 rule/graph mode).
func (s *Snapshot) NCMByPrefix(prefix string) []NCMNode {
	if s == nil || len(prefix) < 2 {
		return nil
	}
	chapter := prefix[:2]
	var out []NCMNode
	for _, code := range s.byChapter[chapter] {
		if len(prefix) <= len(code) && code[:len(prefix)] == prefix {
			out = append(out, s.NCM[code])
		}
	}
	return out
}

// CESTRulesForNCM returns every CEST rule whose pattern prefixes ncm and
// is active at `at`, unless includeExpired is set.
func (s *Snapshot) CESTRulesForNCM(ncm string, at time.Time, includeExpired bool) []CESTRule {
	if s == nil {
		return nil
	}
	var out []CESTRule
	for _, r := range s.CEST {
		if !r.MatchesNCM(ncm) {
			continue
		}
		if !includeExpired && !r.Active(at) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].MostSpecificLevel(ncm), out[j].MostSpecificLevel(ncm)
		if li != lj {
			return li > lj
		}
		return out[i].ValidityStart.After(out[j].ValidityStart)
	})
	return out
}

// GoldenFor returns the active golden-set entry matching a
// (description_enriched, gtin) key, or false if none is active.
func (s *Snapshot) GoldenFor(descriptionEnriched, gtin string) (GoldenSetEntry, bool) {
	if s == nil {
		return GoldenSetEntry{}, false
	}
	for _, g := range s.Golden {
		if !g.Active {
			continue
		}
		if g.DescriptionEnriched == descriptionEnriched && (gtin == "" || g.GTIN == gtin) {
			return g, true
		}
	}
	return GoldenSetEntry{}, false
}

// Handle holds the current Snapshot behind an atomic pointer, so readers
// never need to lock and never observe a torn reload.
type Handle struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHandle returns a Handle pre-loaded with an empty Snapshot.
func NewHandle() *Handle {
	h := &Handle{}
	h.ptr.Store(Empty())
	return h
}

// Current returns the Snapshot in effect right now.
func (h *Handle) Current() *Snapshot { return h.ptr.Load() }

// Swap atomically replaces the current Snapshot.
func (h *Handle) Swap(s *Snapshot) { h.ptr.Store(s) }
