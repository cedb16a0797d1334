package goldenset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ReadReceipt records one golden-set read for later isolation auditing.
type ReadReceipt struct {
	ReceiptID      string    `json:"receipt_id"`
	ReadingTenant  string    `json:"reading_tenant"`
	EntrySourceTenant string `json:"entry_source_tenant"`
	EntryID        string    `json:"entry_id"`
	CrossTenant    bool      `json:"cross_tenant"`
	ContentHash    string    `json:"content_hash"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsolationChecker is a diagnostic, non-blocking auditor: because golden
// set entries are deliberately shared across tenants (spec §9 Open
// Question, resolved: shared), this does not prevent cross-tenant reads
// the way the teacher's tenant isolation checker prevents cross-tenant
// resource access — it only makes them observable, so an operator can
// see how often tenant A's classification outcomes are being matched
// off tenant B's curated entries.
type IsolationChecker struct {
	mu    sync.Mutex
	seq   int64
	reads []ReadReceipt
	clock func() time.Time
}

func NewIsolationChecker() *IsolationChecker {
	return &IsolationChecker{clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (c *IsolationChecker) WithClock(clock func() time.Time) *IsolationChecker {
	c.clock = clock
	return c
}

// RecordRead logs one golden-set read. It never blocks or rejects the
// read; it only appends a receipt for later ByTenant/CrossTenantReads
// inspection.
func (c *IsolationChecker) RecordRead(readingTenant, entrySourceTenant, entryID string) ReadReceipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	receipt := ReadReceipt{
		ReceiptID:         fmt.Sprintf("iso-%d", c.seq),
		ReadingTenant:     readingTenant,
		EntrySourceTenant: entrySourceTenant,
		EntryID:           entryID,
		CrossTenant:       readingTenant != entrySourceTenant,
		Timestamp:         c.clock(),
	}
	hashInput := fmt.Sprintf("%s:%s:%s:%d", readingTenant, entrySourceTenant, entryID, c.seq)
	h := sha256.Sum256([]byte(hashInput))
	receipt.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	c.reads = append(c.reads, receipt)
	return receipt
}

// CrossTenantReads returns every recorded read where the reading tenant
// differs from the entry's source tenant.
func (c *IsolationChecker) CrossTenantReads() []ReadReceipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ReadReceipt, 0)
	for _, r := range c.reads {
		if r.CrossTenant {
			out = append(out, r)
		}
	}
	return out
}

// Summary returns (total reads, cross-tenant reads) for a quick
// dashboard-style count.
func (c *IsolationChecker) Summary() (total, crossTenant int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total = len(c.reads)
	for _, r := range c.reads {
		if r.CrossTenant {
			crossTenant++
		}
	}
	return total, crossTenant
}
