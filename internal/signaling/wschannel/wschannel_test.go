package wschannel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snowball-robotics/roverlink/internal/metrics"
	"github.com/snowball-robotics/roverlink/internal/signaling"
)

type testServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	texts chan []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns: make(chan *websocket.Conn, 8),
		texts: make(chan []byte, 64),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.texts <- data
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) acceptConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func (ts *testServer) nextText(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-ts.texts:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received by server")
		return nil
	}
}

func recvMessage(t *testing.T, ch *Channel) signaling.Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Messages():
		if !ok {
			t.Fatalf("messages channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received by client")
		return signaling.Message{}
	}
}

func TestDial_FailsOnUnreachableServer(t *testing.T) {
	if _, err := Dial(Config{URL: "ws://127.0.0.1:1/ws"}); err == nil {
		t.Fatalf("Dial to unreachable server succeeded")
	}
}

func TestSendAndReceive(t *testing.T) {
	ts := newTestServer(t)
	ch, err := Dial(Config{URL: ts.url()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	serverConn := ts.acceptConn(t)

	if err := ch.Send(signaling.Message{Type: signaling.TypeRoomJoin, RoomID: "snowball"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := signaling.ParseMessage(ts.nextText(t))
	if err != nil {
		t.Fatalf("server got malformed message: %v", err)
	}
	if got.Type != signaling.TypeRoomJoin || got.RoomID != "snowball" {
		t.Fatalf("server got %+v, want room:join", got)
	}

	role := `{"type":"room:role","initiator":true,"polite":false}`
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(role)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	msg := recvMessage(t, ch)
	if msg.Type != signaling.TypeRoomRole || msg.Initiator == nil || !*msg.Initiator {
		t.Fatalf("client got %+v, want room:role initiator", msg)
	}
}

func TestMalformedInboundDropped(t *testing.T) {
	ts := newTestServer(t)
	ch, err := Dial(Config{URL: ts.url()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	serverConn := ts.acceptConn(t)
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"peer:ready"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	msg := recvMessage(t, ch)
	if msg.Type != signaling.TypePeerReady {
		t.Fatalf("client got %+v, want the valid peer:ready only", msg)
	}
}

func TestReconnectReplaysJoin(t *testing.T) {
	ts := newTestServer(t)
	m := metrics.New()
	ch, err := Dial(Config{
		URL:               ts.url(),
		ReconnectMinDelay: 10 * time.Millisecond,
		ReconnectMaxDelay: 50 * time.Millisecond,
		Metrics:           m,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	first := ts.acceptConn(t)
	if err := ch.Send(signaling.Message{Type: signaling.TypeRoomJoin, RoomID: "snowball"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ts.nextText(t) // initial join

	// Drop the connection server-side; the client must redial and rejoin.
	_ = first.Close()

	second := ts.acceptConn(t)
	rejoin, err := signaling.ParseMessage(ts.nextText(t))
	if err != nil {
		t.Fatalf("rejoin malformed: %v", err)
	}
	if rejoin.Type != signaling.TypeRoomJoin || rejoin.RoomID != "snowball" {
		t.Fatalf("rejoin=%+v, want replayed room:join", rejoin)
	}
	if got := m.Get(metrics.SignalingReconnects); got != 1 {
		t.Fatalf("signaling_reconnects=%d, want 1", got)
	}

	// The new connection still delivers messages.
	if err := second.WriteMessage(websocket.TextMessage, []byte(`{"type":"peer:ready"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if msg := recvMessage(t, ch); msg.Type != signaling.TypePeerReady {
		t.Fatalf("client got %+v after reconnect", msg)
	}
}

func TestCloseEndsMessages(t *testing.T) {
	ts := newTestServer(t)
	ch, err := Dial(Config{URL: ts.url()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ts.acceptConn(t)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-ch.Messages():
		if ok {
			t.Fatalf("got message after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("messages channel not closed")
	}

	if err := ch.Send(signaling.Message{Type: signaling.TypePeerReady}); err == nil {
		t.Fatalf("Send after Close succeeded")
	}
}
