package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/state"
)

type scriptedChecker struct {
	mu      sync.Mutex
	inStock map[string][]bool
	errs    map[string]error
	calls   map[string]int
}

func (c *scriptedChecker) CheckAvailability(ctx context.Context, p model.WatchedProduct) (model.ProductStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[p.SKU]++
	if err := c.errs[p.SKU]; err != nil {
		return model.ProductStatus{}, err
	}
	script := c.inStock[p.SKU]
	idx := c.calls[p.SKU] - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	in := false
	if idx >= 0 {
		in = script[idx]
	}
	return model.ProductStatus{SKU: p.SKU, Name: p.Name, URL: p.URL, InStock: in}, nil
}

type collectSink struct {
	mu     sync.Mutex
	events []model.StockEvent
}

func (s *collectSink) Enqueue(ev model.StockEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *collectSink) all() []model.StockEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StockEvent(nil), s.events...)
}

func watched() []model.WatchedProduct {
	return []model.WatchedProduct{
		{SKU: "UVC-G6-180", Name: "G6 180"},
		{SKU: "UTR", Name: "Travel Router"},
	}
}

func newTestPoller(checker Checker, sink Sink) (*Poller, *state.Store) {
	products := watched()
	st := state.New(products)
	p := New(products, checker, sink, st, time.Minute, WithSpacing(0))
	return p, st
}

func TestPollerEmitsOnceOnTransition(t *testing.T) {
	checker := &scriptedChecker{inStock: map[string][]bool{
		"UTR":        {false, true, true},
		"UVC-G6-180": {false, false, false},
	}}
	sink := &collectSink{}
	p, _ := newTestPoller(checker, sink)

	ctx := context.Background()
	p.pollOnce(ctx) // unavailable
	p.pollOnce(ctx) // available: emit
	p.pollOnce(ctx) // still available: no re-emit

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(got))
	}
	if got[0].ProductID != "UTR" || got[0].Source != model.SourcePoll {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestPollerReemitsAfterIntermediateUnavailable(t *testing.T) {
	checker := &scriptedChecker{inStock: map[string][]bool{
		"UTR":        {true, false, true},
		"UVC-G6-180": {false},
	}}
	sink := &collectSink{}
	p, _ := newTestPoller(checker, sink)

	ctx := context.Background()
	p.pollOnce(ctx) // transition from the unknown initial state: emit
	p.pollOnce(ctx) // back out of stock
	p.pollOnce(ctx) // restocked again: emit

	if got := sink.all(); len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
}

func TestPollerFailureIsolation(t *testing.T) {
	checker := &scriptedChecker{
		inStock: map[string][]bool{"UTR": {true}},
		errs:    map[string]error{"UVC-G6-180": errors.New("network error")},
	}
	sink := &collectSink{}
	p, st := newTestPoller(checker, sink)

	p.pollOnce(context.Background())

	got := sink.all()
	if len(got) != 1 || got[0].ProductID != "UTR" {
		t.Fatalf("failure for one product must not block the other: %+v", got)
	}
	if st.LastAvailability("UVC-G6-180") {
		t.Fatalf("failed check must leave availability state unchanged")
	}
}

func TestPollerFailedCheckKeepsPreviousState(t *testing.T) {
	checker := &scriptedChecker{inStock: map[string][]bool{
		"UTR":        {true},
		"UVC-G6-180": {false},
	}}
	sink := &collectSink{}
	p, st := newTestPoller(checker, sink)

	ctx := context.Background()
	p.pollOnce(ctx)
	if !st.LastAvailability("UTR") {
		t.Fatalf("expected UTR recorded as available")
	}

	checker.mu.Lock()
	checker.errs = map[string]error{"UTR": errors.New("503")}
	checker.mu.Unlock()
	p.pollOnce(ctx)
	if !st.LastAvailability("UTR") {
		t.Fatalf("failed observation must not flip availability")
	}
	// Recovery without an intervening false observation: no new event.
	checker.mu.Lock()
	checker.errs = nil
	checker.mu.Unlock()
	p.pollOnce(ctx)
	if got := sink.all(); len(got) != 1 {
		t.Fatalf("expected no re-emit after checker recovery, got %d events", len(got))
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	checker := &scriptedChecker{}
	sink := &collectSink{}
	p, _ := newTestPoller(checker, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop on cancel")
	}
}
