package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

var upgrader = websocket.Upgrader{}

func newServerAndClientAdapter(t *testing.T, serverHandler func(*websocket.Conn)) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		serverHandler(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return New("test-adapter", RoleCustomer, conn, 4)
}

func TestAdapterSendAndRecvRoundTrip(t *testing.T) {
	t.Parallel()

	serverConn := make(chan *websocket.Conn, 1)
	a := newServerAndClientAdapter(t, func(conn *websocket.Conn) {
		serverConn <- conn
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, raw)
	})
	defer a.Close("test done")

	if err := a.Send(wire.Outbound{Type: wire.TagText, Content: "hello"}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case msg := <-a.Recv():
		if msg.Type != wire.TagText {
			t.Errorf("got type %q, want %q", msg.Type, wire.TagText)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestAdapterSendAfterCloseReturnsPeerGone(t *testing.T) {
	t.Parallel()

	a := newServerAndClientAdapter(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	if err := a.Close("done"); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	if err := a.Send(wire.Outbound{Type: wire.TagText}); err != voiceerr.ErrPeerGone {
		t.Errorf("got error %v, want ErrPeerGone", err)
	}
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var closeCalls int
	a := newServerAndClientAdapter(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	a.OnClose(func(reason string) { closeCalls++ })

	a.Close("first")
	a.Close("second")

	if closeCalls != 1 {
		t.Errorf("OnClose invoked %d times, want 1", closeCalls)
	}
}

func TestAdapterSendReturnsPeerSlowWhenOutboxFull(t *testing.T) {
	t.Parallel()

	// The server side never reads, so the write pump's single in-flight
	// frame plus the bounded outbox fill up quickly.
	block := make(chan struct{})
	a := newServerAndClientAdapter(t, func(conn *websocket.Conn) {
		<-block
	})
	defer close(block)
	defer a.Close("done")

	var lastErr error
	for i := 0; i < 64; i++ {
		lastErr = a.Send(wire.Outbound{Type: wire.TagAudio, Data: make([]byte, 1024)})
		if lastErr == voiceerr.ErrPeerSlow {
			break
		}
	}
	if lastErr != voiceerr.ErrPeerSlow {
		t.Fatalf("expected ErrPeerSlow after filling the outbox, got %v", lastErr)
	}
}
