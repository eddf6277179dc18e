// Package pipeline implements the shared processing path between the
// two sources and the automation webhook: intake queue, deduplication
// gate, and delivery workers.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uialert/stock-alert-monitor/internal/dedup"
	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/obs"
	"github.com/uialert/stock-alert-monitor/internal/state"
)

// Dispatcher delivers one admitted event downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.StockEvent) error
}

// Pipeline routes normalized events through the dedup gate to the
// dispatcher. Both sources share one Pipeline; Enqueue never blocks.
type Pipeline struct {
	q      *queue
	ded    *dedup.Deduplicator
	disp   Dispatcher
	st     *state.Store
	cat    *model.Catalog
	seq    Sequencer
	cancel context.CancelFunc
	wg     sync.WaitGroup

	admitted   atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
}

// New constructs a Pipeline with the given collaborators.
func New(buffer int, ded *dedup.Deduplicator, disp Dispatcher, st *state.Store, cat *model.Catalog) *Pipeline {
	return &Pipeline{q: newQueue(buffer), ded: ded, disp: disp, st: st, cat: cat}
}

// Start launches the broker and workers in the background.
func (p *Pipeline) Start(parent context.Context, workers int) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.q.start(ctx)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop cancels workers and waits for them to exit. In-flight dispatch
// attempts finish before Stop returns.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue stamps the event with an ID and sequence number and puts it
// on the intake queue. Returns false once intake is closed.
func (p *Pipeline) Enqueue(ev model.StockEvent) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Sequence = p.seq.Next()
	return p.q.enqueue(ev)
}

// worker drains events from the queue and runs the processing path:
// unknown-product guard, dedup gate, webhook dispatch.
func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.q.out:
			p.process(ctx, ev)
			p.q.processed.Add(1)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ev model.StockEvent) {
	if _, ok := p.cat.BySKU(ev.ProductID); !ok {
		p.dropped.Add(1)
		obs.Logger.Warn("unknown_product_dropped",
			"product_id", ev.ProductID,
			"source", string(ev.Source),
		)
		return
	}
	if !p.ded.Admit(ev.ProductID, ev.ObservedAt) {
		p.suppressed.Add(1)
		obs.Logger.Info("duplicate_alert_suppressed",
			"event_id", ev.ID,
			"product_id", ev.ProductID,
			"source", string(ev.Source),
		)
		return
	}
	p.admitted.Add(1)
	p.st.RecordAlert(ev.ProductID, ev.ObservedAt)
	obs.Logger.Info("stock_event_admitted",
		"event_id", ev.ID,
		"sequence", ev.Sequence,
		"product_id", ev.ProductID,
		"source", string(ev.Source),
	)
	if err := p.disp.Dispatch(ctx, ev); err != nil {
		// Terminal for this event: logged, dropped, pipeline moves on.
		p.failed.Add(1)
		obs.Logger.Error("alert_delivery_failed",
			"event_id", ev.ID,
			"product_id", ev.ProductID,
			"error", err,
		)
		return
	}
	p.delivered.Add(1)
}

// CloseIntake disallows future enqueues.
func (p *Pipeline) CloseIntake() { p.q.closeIntake() }

// BacklogSize returns pending items in the intake queue.
func (p *Pipeline) BacklogSize() int { return p.q.backlogSize() }

// Metrics is a snapshot of the pipeline counters.
type Metrics struct {
	Enqueued   uint64 `json:"events_enqueued"`
	Processed  uint64 `json:"events_processed"`
	Admitted   uint64 `json:"events_admitted"`
	Suppressed uint64 `json:"events_suppressed"`
	Dropped    uint64 `json:"events_dropped"`
	Delivered  uint64 `json:"alerts_delivered"`
	Failed     uint64 `json:"alerts_failed"`
	Backlog    int    `json:"backlog_size"`
	Depth      int    `json:"queue_depth"`
}

// Snapshot returns the current counters and queue sizes.
func (p *Pipeline) Snapshot() Metrics {
	return Metrics{
		Enqueued:   p.q.enqueued.Load(),
		Processed:  p.q.processed.Load(),
		Admitted:   p.admitted.Load(),
		Suppressed: p.suppressed.Load(),
		Dropped:    p.dropped.Load(),
		Delivered:  p.delivered.Load(),
		Failed:     p.failed.Load(),
		Backlog:    p.q.backlogSize(),
		Depth:      p.q.depth(),
	}
}

// DrainUntil blocks until every enqueued event has been processed or
// the context is done.
func (p *Pipeline) DrainUntil(ctx context.Context) bool {
	for {
		m := p.Snapshot()
		if m.Backlog == 0 && m.Depth == 0 && m.Enqueued == m.Processed {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
