package poller

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

// Storefront checks availability against the retailer's product pages.
type Storefront struct {
	client *resty.Client
}

var outOfStockMarkers = []string{
	"out of stock",
	"sold out",
	"currently unavailable",
	"notify me",
	"coming soon",
}

var (
	addToCartRe = regexp.MustCompile(`(?is)<button[^>]*(?:data-testid="add-to-cart"|>[^<]*add to cart)`)
	quantityRe  = regexp.MustCompile(`(?is)data-testid="quantity-available"[^>]*>\s*(\d+)`)
)

// NewStorefront creates a Storefront with browser-like headers; the
// store serves a degraded page to obvious bots.
func NewStorefront() *Storefront {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeaders(map[string]string{
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
		})
	return &Storefront{client: client}
}

// CheckAvailability fetches the product page and parses stock markers.
func (s *Storefront) CheckAvailability(ctx context.Context, p model.WatchedProduct) (model.ProductStatus, error) {
	if p.URL == "" {
		return model.ProductStatus{}, fmt.Errorf("product %s has no store URL", p.SKU)
	}
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := s.client.R().SetContext(reqCtx).Get(p.URL)
	if err != nil {
		return model.ProductStatus{}, fmt.Errorf("fetch %s: %w", p.SKU, err)
	}
	if !resp.IsSuccess() {
		return model.ProductStatus{}, fmt.Errorf("fetch %s: status %d", p.SKU, resp.StatusCode())
	}
	return parseProductPage(p, string(resp.Body())), nil
}

// parseProductPage determines stock status from page markup: an
// add-to-cart button must be present and no out-of-stock marker may
// appear in the page text.
func parseProductPage(p model.WatchedProduct, html string) model.ProductStatus {
	lower := strings.ToLower(html)
	outOfStock := false
	for _, marker := range outOfStockMarkers {
		if strings.Contains(lower, marker) {
			outOfStock = true
			break
		}
	}
	inStock := addToCartRe.MatchString(html) && !outOfStock

	var quantity *int
	if m := quantityRe.FindStringSubmatch(html); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			quantity = &n
		}
	}
	return model.ProductStatus{
		SKU:      p.SKU,
		Name:     p.Name,
		URL:      p.URL,
		InStock:  inStock,
		Quantity: quantity,
	}
}
