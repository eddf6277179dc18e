package listener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uialert/stock-alert-monitor/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGatewayReceivesMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token on handshake, got %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(frame{Type: "message", Message: model.ChatMessage{
			GuildID: "g1", Content: "@UTR restocked", RoleMentions: []string{"UTR"},
		}})
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := g.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.GuildID != "g1" || len(msg.RoleMentions) != 1 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestGatewaySkipsNonMessageFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(frame{Type: "heartbeat"})
		_ = conn.WriteJSON(frame{Type: "message", Message: model.ChatMessage{GuildID: "g1"}})
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := g.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.GuildID != "g1" {
		t.Fatalf("heartbeat frame should have been skipped, got %+v", msg)
	}
}

func TestGatewayReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns.Add(1) == 1 {
			// First connection drops without delivering anything.
			return
		}
		_ = conn.WriteJSON(frame{Type: "message", Message: model.ChatMessage{GuildID: "g2"}})
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "")
	g.backoffBase = 10 * time.Millisecond
	g.backoffMax = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := g.Next(ctx)
	if err != nil {
		t.Fatalf("next after reconnect: %v", err)
	}
	if msg.GuildID != "g2" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if conns.Load() < 2 {
		t.Fatalf("expected a reconnect, got %d connections", conns.Load())
	}
}

func TestGatewayBacksOffWhenServerDropsImmediately(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		// Accept the handshake, then hang up without delivering anything.
		conn.Close()
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "")
	g.backoffBase = 25 * time.Millisecond
	g.backoffMax = 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := g.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	// With 25/50/100/100... delays between dials, 500ms fits well under
	// ten attempts. A redial loop without backoff reaches thousands.
	if n := conns.Load(); n < 2 || n > 10 {
		t.Fatalf("expected a handful of paced redials, got %d", n)
	}
}

func TestGatewayDetectsSilentConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		// Never read or write. The peer cannot answer pings it never
		// processes, so the client's read deadline must fire.
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "")
	g.pongWait = 80 * time.Millisecond
	g.pingPeriod = 25 * time.Millisecond
	g.backoffBase = 10 * time.Millisecond
	g.backoffMax = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_, _ = g.Next(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && conns.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if conns.Load() < 2 {
		t.Fatalf("silent connection was not detected within the keepalive window")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway did not unblock on cancel")
	}
}

func TestGatewayUnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "bad")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := g.Next(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGatewayCancelDuringRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open without sending anything.
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	g := NewGateway(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Next(ctx)
		done <- err
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway read did not unblock on cancel")
	}
}
