// Package dedup implements the alert deduplication gate.
//
// One physical restock may be observed by both sources within seconds
// of each other; the Deduplicator guarantees at most one of those
// observations passes downstream per product within the window.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// Deduplicator is the stateful gate consulted by both sources. It is
// the sole owner of the last-alert table; Admit serializes access so
// check-and-set is a single critical section.
type Deduplicator struct {
	window time.Duration

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// New creates a Deduplicator with the given window. A window <= 0
// disables deduplication entirely.
func New(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window:    window,
		lastAlert: make(map[string]time.Time),
	}
}

// Admit decides pass/suppress for an observation of productID at
// observedAt. It returns true iff there is no entry for the product or
// the recorded last alert is at least one window older than observedAt,
// and on pass records observedAt as the new last alert in the same
// critical section.
func (d *Deduplicator) Admit(productID string, observedAt time.Time) bool {
	if d.window <= 0 {
		return true
	}
	key := strings.ToLower(productID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastAlert[key]; ok {
		if observedAt.Sub(last) < d.window {
			obs.Logger.Debug("duplicate_alert_suppressed",
				"product_id", productID,
				"window_remaining_sec", (d.window - observedAt.Sub(last)).Seconds(),
			)
			return false
		}
	}
	d.lastAlert[key] = observedAt
	return true
}

// Clear removes the entry for one product, re-arming it immediately.
func (d *Deduplicator) Clear(productID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlert, strings.ToLower(productID))
}

// Reset drops all entries.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAlert = make(map[string]time.Time)
}

// EntryStatus describes one dedup entry for the status API.
type EntryStatus struct {
	LastAlertAt time.Time `json:"last_alert_at"`
	BlockedSec  float64   `json:"blocked_sec"`
}

// Snapshot reports the current table relative to now. BlockedSec is
// zero for entries whose window has expired.
func (d *Deduplicator) Snapshot(now time.Time) map[string]EntryStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]EntryStatus, len(d.lastAlert))
	for sku, last := range d.lastAlert {
		remaining := d.window - now.Sub(last)
		if remaining < 0 {
			remaining = 0
		}
		out[sku] = EntryStatus{LastAlertAt: last, BlockedSec: remaining.Seconds()}
	}
	return out
}
