package listener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uialert/stock-alert-monitor/internal/model"
	"github.com/uialert/stock-alert-monitor/internal/obs"
)

// ErrUnauthorized is returned when the gateway rejects the configured
// token. Retrying cannot help, so this surfaces as a permanent fault.
var ErrUnauthorized = errors.New("chat gateway rejected credentials")

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = 2 * time.Minute
	pongTimeout   = 60 * time.Second
	pingInterval  = 20 * time.Second
	pingWriteWait = 5 * time.Second
)

// frame is one gateway message as framed on the wire.
type frame struct {
	Type    string            `json:"type"`
	Message model.ChatMessage `json:"message"`
}

// Gateway is a MessageStream over a long-lived websocket. Transient
// disconnects are handled here with capped backoff so the Listener can
// treat the stream as already reconnecting transparently. A periodic
// ping with a read deadline surfaces half-dead connections as read
// errors. The gateway never writes application messages.
type Gateway struct {
	url    string
	token  string
	dialer *websocket.Dialer
	conn   *websocket.Conn

	backoffBase time.Duration
	backoffMax  time.Duration
	pongWait    time.Duration
	pingPeriod  time.Duration

	// backoff is the delay before the next dial. It escalates on both
	// dial failures and post-handshake drops, and resets only after a
	// successful read.
	backoff  time.Duration
	pingStop chan struct{}
}

// NewGateway creates a Gateway for the given websocket URL and token.
func NewGateway(url, token string) *Gateway {
	return &Gateway{
		url:         url,
		token:       token,
		dialer:      &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		backoffBase: reconnectBase,
		backoffMax:  reconnectMax,
		pongWait:    pongTimeout,
		pingPeriod:  pingInterval,
	}
}

// Next returns the next chat message, reconnecting as needed. It
// returns an error only for context cancellation or a permanent
// failure such as rejected credentials.
func (g *Gateway) Next(ctx context.Context) (model.ChatMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ChatMessage{}, err
		}
		if g.conn == nil {
			if err := g.sleepBackoff(ctx); err != nil {
				return model.ChatMessage{}, err
			}
			if err := g.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return model.ChatMessage{}, ctx.Err()
				}
				if errors.Is(err, ErrUnauthorized) {
					return model.ChatMessage{}, err
				}
				g.escalateBackoff()
				obs.Logger.Warn("chat_gateway_dial_failed",
					"error", err,
					"retry_in_sec", g.backoff.Seconds(),
				)
				continue
			}
		}

		// Unblock the read when the context is canceled.
		done := make(chan struct{})
		conn := g.conn
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		var f frame
		err := conn.ReadJSON(&f)
		close(done)
		if err != nil {
			g.closeConn()
			if ctx.Err() != nil {
				return model.ChatMessage{}, ctx.Err()
			}
			g.escalateBackoff()
			obs.Logger.Warn("chat_gateway_disconnected",
				"error", err,
				"retry_in_sec", g.backoff.Seconds(),
			)
			continue
		}
		g.backoff = 0
		_ = conn.SetReadDeadline(time.Now().Add(g.pongWait))
		if f.Type != "message" {
			continue
		}
		return f.Message, nil
	}
}

// connect performs a single dial attempt and arms the keepalive on
// success. A 401/403 handshake response is permanent; every other
// failure is transient and retried by Next under backoff.
func (g *Gateway) connect(ctx context.Context) error {
	header := http.Header{}
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}
	conn, resp, err := g.dialer.DialContext(ctx, g.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(g.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.pongWait))
	})
	stop := make(chan struct{})
	go g.pingLoop(conn, stop)
	g.conn = conn
	g.pingStop = stop
	obs.Logger.Info("chat_gateway_connected", "url", g.url)
	return nil
}

// pingLoop keeps the connection's read deadline honest. If the peer is
// gone without a FIN, missing pongs let the deadline expire and the
// blocked read fails over to the reconnect path.
func (g *Gateway) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(g.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(pingWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) closeConn() {
	if g.pingStop != nil {
		close(g.pingStop)
		g.pingStop = nil
	}
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
}

func (g *Gateway) sleepBackoff(ctx context.Context) error {
	if g.backoff <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.backoff):
		return nil
	}
}

func (g *Gateway) escalateBackoff() {
	if g.backoff <= 0 {
		g.backoff = g.backoffBase
	} else {
		g.backoff *= 2
	}
	if g.backoff > g.backoffMax {
		g.backoff = g.backoffMax
	}
}
