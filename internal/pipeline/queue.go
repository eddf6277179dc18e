package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// queue is a buffered event queue with a background broker. Both
// sources enqueue without blocking; workers consume from the output
// channel.
type queue struct {
	mu           sync.Mutex
	backlog      []model.StockEvent
	notify       chan struct{}
	out          chan model.StockEvent
	shuttingDown atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
}

func newQueue(outBuffer int) *queue {
	if outBuffer <= 0 {
		outBuffer = 64
	}
	return &queue{
		notify: make(chan struct{}, 1),
		out:    make(chan model.StockEvent, outBuffer),
	}
}

// start runs the broker loop.
func (q *queue) start(ctx context.Context) {
	go q.broker(ctx)
}

// broker moves backlog items to the output channel.
func (q *queue) broker(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.flushOnce()
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// flushOnce drains backlog into the output buffer.
func (q *queue) flushOnce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) > 0 && len(q.out) < cap(q.out) {
		item := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.out <- item
	}
}

// enqueue appends an event into the backlog and notifies the broker.
func (q *queue) enqueue(ev model.StockEvent) bool {
	if q.shuttingDown.Load() {
		obs.Logger.Warn("event_rejected_shutting_down", "product_id", ev.ProductID)
		return false
	}
	q.enqueued.Add(1)
	q.mu.Lock()
	q.backlog = append(q.backlog, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) backlogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *queue) depth() int { // backlog + out buffered items
	q.mu.Lock()
	bl := len(q.backlog)
	q.mu.Unlock()
	return bl + len(q.out)
}

func (q *queue) closeIntake() { q.shuttingDown.Store(true) }
