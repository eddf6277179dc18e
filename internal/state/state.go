// Package state keeps the last observed availability and last alert
// per watched product. The poller uses it as its tick-to-tick memory;
// the ops API reads it for /status.
package state

import (
	"strings"
	"sync"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

type productState struct {
	product      model.WatchedProduct
	inStock      bool
	lastObserved time.Time
	lastAlert    time.Time
}

// Store is an in-memory snapshot store keyed by SKU (case-insensitive).
type Store struct {
	mu sync.RWMutex
	m  map[string]productState
}

// New creates a Store seeded with the watched products, all initially
// unavailable so a product in stock at boot alerts on the first tick.
func New(products []model.WatchedProduct) *Store {
	s := &Store{m: make(map[string]productState, len(products))}
	for _, p := range products {
		s.m[strings.ToLower(p.SKU)] = productState{product: p}
	}
	return s
}

// LastAvailability returns the last observed availability for a SKU.
// Unknown SKUs report unavailable.
func (s *Store) LastAvailability(sku string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[strings.ToLower(sku)].inStock
}

// RecordObservation stores the outcome of one availability check.
func (s *Store) RecordObservation(sku string, inStock bool, at time.Time) {
	key := strings.ToLower(sku)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[key]
	if !ok {
		return
	}
	st.inStock = inStock
	st.lastObserved = at
	s.m[key] = st
}

// RecordAlert stores the time an event for this SKU passed the gate.
func (s *Store) RecordAlert(sku string, at time.Time) {
	key := strings.ToLower(sku)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[key]
	if !ok {
		return
	}
	st.lastAlert = at
	s.m[key] = st
}

// ProductRecord is one product's snapshot for the status API.
type ProductRecord struct {
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	InStock      bool      `json:"in_stock"`
	LastObserved time.Time `json:"last_observed,omitzero"`
	LastAlert    time.Time `json:"last_alert,omitzero"`
}

// Snapshot returns the current record for every watched product.
func (s *Store) Snapshot() []ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProductRecord, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, ProductRecord{
			SKU:          st.product.SKU,
			Name:         st.product.Name,
			InStock:      st.inStock,
			LastObserved: st.lastObserved,
			LastAlert:    st.lastAlert,
		})
	}
	return out
}
