// Package model defines domain types used by the monitor.
package model

import (
	"strings"
	"time"
)

// Source identifies which detection path produced a stock event.
type Source string

const (
	// SourceChat marks events detected by the community chat listener.
	SourceChat Source = "chat"
	// SourcePoll marks events detected by the direct store poller.
	SourcePoll Source = "store_poller"
)

// StockEvent is the canonical restock observation flowing through the
// pipeline, regardless of which source produced it.
type StockEvent struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Source      Source    `json:"source"`
	ObservedAt  time.Time `json:"observed_at"`
	Quantity    *int      `json:"quantity,omitempty"`
	URL         string    `json:"url,omitempty"`
	Raw         string    `json:"raw,omitempty"`
	Sequence    uint64    `json:"-"`
}

// WatchedProduct is one configured SKU the monitor watches. Immutable
// after configuration load; shared read-only by both sources.
type WatchedProduct struct {
	SKU      string
	Name     string
	ChatRole string
	URL      string
}

// ProductStatus is the result of one availability check against the
// store for a single product.
type ProductStatus struct {
	SKU      string
	Name     string
	URL      string
	InStock  bool
	Quantity *int
}

// ChatMessage is one raw inbound message from the chat transport.
type ChatMessage struct {
	GuildID      string   `json:"guild_id"`
	ChannelID    string   `json:"channel_id"`
	AuthorID     string   `json:"author_id"`
	Content      string   `json:"content"`
	RoleMentions []string `json:"role_mentions"`
}

// Catalog provides case-insensitive lookups over the watched products.
type Catalog struct {
	products []WatchedProduct
	bySKU    map[string]WatchedProduct
	byRole   map[string]WatchedProduct
}

// NewCatalog builds a Catalog from the configured product list.
func NewCatalog(products []WatchedProduct) *Catalog {
	c := &Catalog{
		products: products,
		bySKU:    make(map[string]WatchedProduct, len(products)),
		byRole:   make(map[string]WatchedProduct, len(products)),
	}
	for _, p := range products {
		c.bySKU[strings.ToLower(p.SKU)] = p
		if p.ChatRole != "" {
			c.byRole[strings.ToLower(p.ChatRole)] = p
		}
	}
	return c
}

// Products returns the configured product list.
func (c *Catalog) Products() []WatchedProduct { return c.products }

// BySKU looks a product up by SKU, ignoring case.
func (c *Catalog) BySKU(sku string) (WatchedProduct, bool) {
	p, ok := c.bySKU[strings.ToLower(sku)]
	return p, ok
}

// ByRole looks a product up by its chat role name, ignoring case.
func (c *Catalog) ByRole(role string) (WatchedProduct, bool) {
	p, ok := c.byRole[strings.ToLower(role)]
	return p, ok
}
