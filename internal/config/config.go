// Package config provides runtime configuration values for the monitor.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

// Config holds configuration knobs for the alert pipeline, the two
// sources, and the ops HTTP server.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	WebhookURL   string
	WebhookToken string

	DedupWindow time.Duration

	PollEnabled  bool
	PollInterval time.Duration

	ChatGatewayURL string
	ChatToken      string
	ChatGuildID    string
	ChatSelfID     string

	PipelineBuffer int
	WorkerCount    int

	Products []model.WatchedProduct
}

// minPollInterval is the floor for the store polling interval. The
// retailer endpoint must not be queried faster than this.
const minPollInterval = 60 * time.Second

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

func durenvmin(key string, defMin int) time.Duration {
	m := atoienv(key, defMin)
	return time.Duration(m) * time.Minute
}

// Load collects configuration from environment with defaults.
func Load() Config {
	interval := durenvs("POLL_INTERVAL_SEC", 60)
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		WebhookURL:      getenv("WEBHOOK_URL", ""),
		WebhookToken:    getenv("WEBHOOK_TOKEN", ""),
		DedupWindow:     durenvmin("DEDUP_WINDOW_MIN", 30),
		PollEnabled:     getenv("POLL_ENABLED", "true") != "false",
		PollInterval:    interval,
		ChatGatewayURL:  getenv("CHAT_GATEWAY_URL", ""),
		ChatToken:       getenv("CHAT_TOKEN", ""),
		ChatGuildID:     getenv("CHAT_GUILD_ID", ""),
		ChatSelfID:      getenv("CHAT_SELF_ID", ""),
		PipelineBuffer:  atoienv("PIPELINE_BUFFER", 64),
		WorkerCount:     atoienv("WORKER_COUNT", 2),
		Products:        parseProducts(getenv("WATCH_PRODUCTS", "")),
	}
}

// parseProducts parses the WATCH_PRODUCTS value: records of
// "sku|name|chat_role|store_url". Records are comma separated; when
// the value contains a semicolon, the semicolon is the record
// separator instead, so store URLs with commas in them stay intact.
// Name, role, and URL may be empty; malformed records are skipped.
func parseProducts(raw string) []model.WatchedProduct {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	sep := ","
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	var out []model.WatchedProduct
	for _, rec := range strings.Split(raw, sep) {
		fields := strings.Split(strings.TrimSpace(rec), "|")
		if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
			continue
		}
		p := model.WatchedProduct{SKU: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			p.Name = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			p.ChatRole = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			p.URL = strings.TrimSpace(fields[3])
		}
		if p.Name == "" {
			p.Name = p.SKU
		}
		if p.ChatRole == "" {
			p.ChatRole = p.SKU
		}
		out = append(out, p)
	}
	return out
}

// Validate checks the configuration invariants that are fatal at
// startup: a reachable webhook URL, at least one watched product, and
// a complete chat configuration when a chat token is set.
func (c Config) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("WEBHOOK_URL %q is not a valid URL", c.WebhookURL)
	}
	if len(c.Products) == 0 {
		return fmt.Errorf("WATCH_PRODUCTS must list at least one product")
	}
	if c.ChatToken != "" {
		if c.ChatGatewayURL == "" {
			return fmt.Errorf("CHAT_GATEWAY_URL is required when CHAT_TOKEN is set")
		}
		if c.ChatGuildID == "" {
			return fmt.Errorf("CHAT_GUILD_ID is required when CHAT_TOKEN is set")
		}
	}
	if !c.PollEnabled && c.ChatToken == "" {
		return fmt.Errorf("both sources disabled: set CHAT_TOKEN or enable POLL_ENABLED")
	}
	return nil
}
