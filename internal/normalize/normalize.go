// Package normalize maps raw source signals onto canonical stock
// events. Both mappers are pure: they return nil when the signal does
// not concern a watched product or does not indicate availability.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

// ChatSignal maps a chat message onto a stock event. A message
// qualifies when it mentions a role mapped to a watched product; the
// first matching role wins. Returns nil for non-qualifying messages.
func ChatSignal(msg model.ChatMessage, cat *model.Catalog, at time.Time) *model.StockEvent {
	for _, role := range msg.RoleMentions {
		p, ok := cat.ByRole(role)
		if !ok {
			continue
		}
		name := p.Name
		if name == "" {
			name = extractName(role, msg.Content)
		}
		return &model.StockEvent{
			ProductID:   p.SKU,
			ProductName: name,
			Source:      model.SourceChat,
			ObservedAt:  at,
			URL:         p.URL,
			Raw:         msg.Content,
		}
	}
	return nil
}

// PollSignal maps one availability observation onto a stock event.
// An event is produced only on the unavailable-to-available transition;
// continued availability and continued unavailability both return nil.
func PollSignal(status model.ProductStatus, wasInStock bool, at time.Time) *model.StockEvent {
	if !status.InStock || wasInStock {
		return nil
	}
	return &model.StockEvent{
		ProductID:   status.SKU,
		ProductName: status.Name,
		Source:      model.SourcePoll,
		ObservedAt:  at,
		Quantity:    status.Quantity,
		URL:         status.URL,
	}
}

// extractName pulls a human-readable product name out of the message
// text for roles without a configured display name. Announcements
// commonly read "Product Name (SKU)" or "Product Name - SKU".
func extractName(role, content string) string {
	patterns := []string{
		fmt.Sprintf(`([^(@\n]+?)\s*\(%s\)`, regexp.QuoteMeta(role)),
		fmt.Sprintf(`([^-\n]+?)\s*-\s*%s`, regexp.QuoteMeta(role)),
	}
	for _, pat := range patterns {
		re, err := regexp.Compile(`(?i)` + pat)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return role
}
