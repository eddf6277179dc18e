// Package dispatch delivers admitted stock events to the external
// automation system's webhook. The automation system owns the actual
// human-facing alert loop; responsibility here ends at a 2xx response.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// storeSearchURL is the fallback product link when none is configured.
const storeSearchURL = "https://store.ui.com/us/en/search?q="

// Dispatcher posts stock events to the automation webhook with bounded
// retries and exponential backoff.
type Dispatcher struct {
	client *resty.Client
	url    string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetry overrides the retry count and base wait. Used by tests to
// keep backoff short; production keeps the defaults.
func WithRetry(retries int, wait time.Duration) Option {
	return func(d *Dispatcher) {
		d.client.SetRetryCount(retries).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(wait * 8)
	}
}

type payload struct {
	ProductSKU  string `json:"product_sku"`
	ProductName string `json:"product_name"`
	Source      string `json:"source"`
	Quantity    *int   `json:"quantity"`
	URL         string `json:"url"`
	Message     string `json:"message,omitempty"`
}

// New creates a Dispatcher for the given webhook URL. A non-empty
// token is sent as a bearer Authorization header.
func New(webhookURL, token string, opts ...Option) *Dispatcher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || !r.IsSuccess()
		})
	if token != "" {
		client.SetAuthToken(token)
	}
	d := &Dispatcher{client: client, url: webhookURL}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers one event. Transport failures and non-2xx statuses
// are retried by the underlying client; an error is returned only once
// all attempts are exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.StockEvent) error {
	link := ev.URL
	if link == "" {
		link = storeSearchURL + url.QueryEscape(ev.ProductID)
	}
	body := payload{
		ProductSKU:  ev.ProductID,
		ProductName: ev.ProductName,
		Source:      string(ev.Source),
		Quantity:    ev.Quantity,
		URL:         link,
		Message:     ev.Raw,
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("webhook delivery failed for %s: %w", ev.ProductID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook delivery failed for %s: status %d", ev.ProductID, resp.StatusCode())
	}
	obs.Logger.Info("alert_delivered",
		"product_id", ev.ProductID,
		"product_name", ev.ProductName,
		"source", string(ev.Source),
		"status", resp.StatusCode(),
	)
	return nil
}
