package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iamgatling/mxxc/internal/relay"
	"github.com/iamgatling/mxxc/internal/signaling"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const testOrigin = "http://localhost:5173"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop().Sugar()
	reg := prometheus.NewRegistry()
	hub := relay.NewHub(logger, relay.NewMetrics(reg), relay.DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(Routes(hub, reg, testOrigin, logger))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *signaling.Client {
	t.Helper()
	c := signaling.NewClient(wsURL(ts), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	expect(t, c, signaling.MessageTypeWelcome)
	return c
}

func expect(t *testing.T, c *signaling.Client, typ string) *signaling.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("connection closed while waiting for %s", typ)
		}
		if msg.Type != typ {
			t.Fatalf("expected %s, got %s (%+v)", typ, msg.Type, msg)
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", typ)
		return nil
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPairingAndSignalOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("expected distinct endpoint ids, got %q and %q", a.ID(), b.ID())
	}

	if err := a.Join("abc123"); err != nil {
		t.Fatal(err)
	}
	expect(t, a, signaling.MessageTypeRoomJoined)

	if err := b.Join("ABC123"); err != nil {
		t.Fatal(err)
	}
	joined := expect(t, a, signaling.MessageTypeUserConnected)
	if joined.SenderID != b.ID() {
		t.Errorf("expected user-connected(%s), got %s", b.ID(), joined.SenderID)
	}
	if ack := expect(t, b, signaling.MessageTypeRoomJoined); ack.Role != signaling.RoleResponder {
		t.Errorf("expected responder role, got %q", ack.Role)
	}

	if err := b.Signal("ABC123", json.RawMessage(`{"type":"answer"}`)); err != nil {
		t.Fatal(err)
	}
	sig := expect(t, a, signaling.MessageTypeSignal)
	if sig.SenderID != b.ID() || string(sig.Payload) != `{"type":"answer"}` {
		t.Errorf("unexpected signal %+v", sig)
	}
}

func TestRoomFullOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)
	c := dial(t, ts)

	a.Join("FULL99")
	expect(t, a, signaling.MessageTypeRoomJoined)
	b.Join("FULL99")
	expect(t, b, signaling.MessageTypeRoomJoined)

	c.Join("FULL99")
	msg := expect(t, c, signaling.MessageTypeError)

	var relayErr *signaling.RelayError
	if err := msg.Err(); !errors.As(err, &relayErr) || relayErr.Code != signaling.CodeRoomFull {
		t.Errorf("expected room_full error, got %v", err)
	}
}

func TestOriginCheck(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}

	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	conn.Close()
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	req.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("expected allow origin %s, got %q", testOrigin, got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	dial(t, ts)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mxxc_relay_endpoints 1") {
		t.Errorf("expected endpoint gauge in metrics output, got:\n%s", body)
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin, allowed string
		want            bool
	}{
		{"", "http://localhost:5173", true},
		{"http://localhost:5173", "http://localhost:5173", true},
		{"http://localhost:5173/", "http://localhost:5173", true},
		{"http://other:5173", "http://localhost:5173", false},
		{"http://other:5173", "*", true},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("originAllowed(%q, %q) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}
