// Package listener consumes the community chat stream and converts
// restock announcements into normalized events. The listener is
// strictly read-only on the chat transport.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/normalize"
	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// ErrStreamClosed is returned by a MessageStream that has failed
// permanently. The supervisor decides whether to restart.
var ErrStreamClosed = errors.New("chat stream closed")

// MessageStream is the transport capability the listener consumes: an
// unbounded sequence of raw messages. Reconnection is the stream's own
// concern; Next only fails on permanent errors or context cancellation.
type MessageStream interface {
	Next(ctx context.Context) (model.ChatMessage, error)
}

// Sink accepts normalized events into the shared pipeline.
type Sink interface {
	Enqueue(ev model.StockEvent) bool
}

// Listener filters the stream for restock announcements in the
// configured guild that mention a watched product role.
type Listener struct {
	stream  MessageStream
	sink    Sink
	cat     *model.Catalog
	guildID string
	selfID  string
}

// New constructs a Listener.
func New(stream MessageStream, sink Sink, cat *model.Catalog, guildID, selfID string) *Listener {
	return &Listener{stream: stream, sink: sink, cat: cat, guildID: guildID, selfID: selfID}
}

// Name implements supervisor.Unit.
func (l *Listener) Name() string { return "chat_listener" }

// Run consumes messages until the context is canceled or the stream
// fails permanently. Stream faults are reported upward, not retried
// here.
func (l *Listener) Run(ctx context.Context) error {
	obs.Logger.Info("chat_listener_started", "guild_id", l.guildID)
	for {
		msg, err := l.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chat stream: %w", err)
		}
		if msg.GuildID != l.guildID {
			continue
		}
		if l.selfID != "" && msg.AuthorID == l.selfID {
			continue
		}
		ev := normalize.ChatSignal(msg, l.cat, time.Now().UTC())
		if ev == nil {
			continue
		}
		obs.Logger.Info("chat_alert_detected",
			"product_id", ev.ProductID,
			"product_name", ev.ProductName,
			"channel_id", msg.ChannelID,
		)
		l.sink.Enqueue(*ev)
	}
}
