// Package poller queries the retailer directly for each watched
// product on a fixed interval. It is the backup detection path when
// the chat source is down or banned, and emits only on the
// unavailable-to-available transition.
package poller

import (
	"context"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/normalize"
	"github.com/uialert/stock-alert-monitor/internal/obs"
	"github.com/uialert/stock-alert-monitor/internal/state"
)

// Checker answers one availability question for one product.
type Checker interface {
	CheckAvailability(ctx context.Context, p model.WatchedProduct) (model.ProductStatus, error)
}

// Sink accepts normalized events into the shared pipeline.
type Sink interface {
	Enqueue(ev model.StockEvent) bool
}

// Poller runs the tick loop. Availability memory lives in the state
// store, initialized to unavailable for every product.
type Poller struct {
	products []model.WatchedProduct
	checker  Checker
	sink     Sink
	st       *state.Store
	interval time.Duration
	spacing  time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithSpacing overrides the delay between product checks within one
// tick. The default keeps the store from rate limiting; tests shorten
// it.
func WithSpacing(d time.Duration) Option {
	return func(p *Poller) { p.spacing = d }
}

// New constructs a Poller. interval must already be floored by config.
func New(products []model.WatchedProduct, checker Checker, sink Sink, st *state.Store, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		products: products,
		checker:  checker,
		sink:     sink,
		st:       st,
		interval: interval,
		spacing:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements supervisor.Unit.
func (p *Poller) Name() string { return "store_poller" }

// Run executes poll ticks until the context is canceled. The first
// tick runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	obs.Logger.Info("store_poller_started",
		"products", len(p.products),
		"interval_sec", p.interval.Seconds(),
	)
	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// pollOnce checks every product independently. A failure for one
// product never aborts the tick for the others; the failing product's
// availability state is left unchanged.
func (p *Poller) pollOnce(ctx context.Context) {
	for i, prod := range p.products {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && p.spacing > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.spacing):
			}
		}
		status, err := p.checker.CheckAvailability(ctx, prod)
		if err != nil {
			obs.Logger.Warn("availability_check_failed",
				"product_id", prod.SKU,
				"error", err,
			)
			continue
		}
		now := time.Now().UTC()
		was := p.st.LastAvailability(prod.SKU)
		p.st.RecordObservation(prod.SKU, status.InStock, now)
		ev := normalize.PollSignal(status, was, now)
		if ev == nil {
			continue
		}
		obs.Logger.Info("stock_detected",
			"product_id", prod.SKU,
			"product_name", prod.Name,
			"quantity", quantityAttr(status.Quantity),
		)
		p.sink.Enqueue(*ev)
	}
}

func quantityAttr(q *int) any {
	if q == nil {
		return "unknown"
	}
	return *q
}
