package state

import (
	"sync"
	"testing"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

func products() []model.WatchedProduct {
	return []model.WatchedProduct{
		{SKU: "UVC-G6-180", Name: "G6 180"},
		{SKU: "UTR", Name: "Travel Router"},
	}
}

func TestInitialAvailabilityUnknown(t *testing.T) {
	s := New(products())
	if s.LastAvailability("UTR") {
		t.Fatalf("products must start unavailable")
	}
	if s.LastAvailability("nonexistent") {
		t.Fatalf("unknown SKU must report unavailable")
	}
}

func TestRecordObservation(t *testing.T) {
	s := New(products())
	at := time.Now()
	s.RecordObservation("utr", true, at)
	if !s.LastAvailability("UTR") {
		t.Fatalf("expected in stock after observation, key case-insensitive")
	}
	s.RecordObservation("UTR", false, at.Add(time.Minute))
	if s.LastAvailability("UTR") {
		t.Fatalf("expected out of stock after second observation")
	}
}

func TestRecordAlertInSnapshot(t *testing.T) {
	s := New(products())
	at := time.Now()
	s.RecordAlert("UVC-G6-180", at)
	var found bool
	for _, r := range s.Snapshot() {
		if r.SKU == "UVC-G6-180" {
			found = true
			if !r.LastAlert.Equal(at) {
				t.Fatalf("expected last alert %v, got %v", at, r.LastAlert)
			}
		}
	}
	if !found {
		t.Fatalf("snapshot missing product")
	}
}

func TestConcurrentRecords(t *testing.T) {
	s := New(products())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		inStock := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordObservation("UTR", inStock, time.Now())
			_ = s.LastAvailability("UTR")
		}()
	}
	wg.Wait()
	if got := len(s.Snapshot()); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
}
