package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRelay welcomes each connection, then runs script on it.
func fakeRelay(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteJSON(Message{Type: MessageTypeWelcome, SenderID: "endpoint-1"}); err != nil {
			return
		}
		script(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func next(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		if !ok {
			t.Fatal("incoming closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return nil
}

func TestRelayErrorFrame(t *testing.T) {
	url := fakeRelay(t, func(conn *websocket.Conn) {
		var join Message
		if err := conn.ReadJSON(&join); err != nil || join.Type != MessageTypeJoinRoom {
			return
		}
		conn.WriteJSON(Message{
			Type:    MessageTypeError,
			Payload: []byte(`{"code":"room_full","error":"room ` + join.RoomID + ` is full"}`),
		})
		// Hold the connection open until the client hangs up.
		conn.ReadMessage()
	})

	c := connect(t, url)
	if msg := next(t, c); msg.Type != MessageTypeWelcome {
		t.Fatalf("expected welcome, got %s", msg.Type)
	}
	if c.ID() != "endpoint-1" {
		t.Errorf("expected id endpoint-1, got %q", c.ID())
	}

	if err := c.Join("ABC123"); err != nil {
		t.Fatal(err)
	}
	msg := next(t, c)

	var re *RelayError
	if !errors.As(msg.Err(), &re) {
		t.Fatalf("expected a RelayError, got %v", msg.Err())
	}
	if re.Code != CodeRoomFull || re.Message != "room ABC123 is full" {
		t.Errorf("unexpected relay error %+v", re)
	}
}

func TestIncomingClosesWhenRelayHangsUp(t *testing.T) {
	url := fakeRelay(t, func(conn *websocket.Conn) {})

	c := connect(t, url)
	next(t, c)

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatal("expected incoming to be closed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("incoming was not closed")
	}
}

func TestSendAfterClose(t *testing.T) {
	url := fakeRelay(t, func(conn *websocket.Conn) { conn.ReadMessage() })

	c := connect(t, url)
	c.Close()
	c.Close()

	if err := c.Leave(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, url := range []string{"ws://127.0.0.1:1/ws", "://bad"} {
		if err := NewClient(url, nil).Connect(ctx); err == nil {
			t.Errorf("Connect(%q): expected error", url)
		}
	}
}

func TestMessageErr(t *testing.T) {
	cases := []struct {
		name     string
		msg      Message
		wantNil  bool
		wantCode string
	}{
		{name: "not an error", msg: Message{Type: MessageTypeSignal}, wantNil: true},
		{name: "invalid code", msg: Message{Type: MessageTypeError, Payload: []byte(`{"code":"invalid_room_code","error":"bad"}`)}, wantCode: CodeInvalidRoomCode},
		{name: "unreadable", msg: Message{Type: MessageTypeError, Payload: []byte(`"oops"`)}, wantCode: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Err()
			if tc.wantNil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			var re *RelayError
			if !errors.As(err, &re) || re.Code != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, err)
			}
		})
	}
}
