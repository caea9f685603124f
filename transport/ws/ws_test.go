package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	connerrors "github.com/c360/connkit/errors"
	"github.com/c360/connkit/transport"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialer_Dial(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if conn.RemoteAddr() == "" {
		t.Error("RemoteAddr should not be empty")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDialer_DialFailure(t *testing.T) {
	d := &Dialer{HandshakeTimeout: 500 * time.Millisecond}

	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if connerrors.CodeOf(err) != connerrors.CodeConnectFailed {
		t.Errorf("error code = %v, want CodeConnectFailed", connerrors.CodeOf(err))
	}
	if !connerrors.IsTransient(err) {
		t.Error("dial failure should be transient")
	}
}

func TestDialer_DialContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Dialer{}
	if _, err := d.Dial(ctx, "ws://127.0.0.1:1"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestConn_WriteFrame(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	frame, err := transport.NewRequest(7, "orders.place", map[string]string{"symbol": "ABC"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if err := conn.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	select {
	case msg := <-received:
		var got transport.Frame
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("server received invalid JSON: %v", err)
		}
		if got.ID != 7 || got.Method != "orders.place" {
			t.Errorf("server received %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame on server")
	}

	_, written := conn.Counters()
	if written == 0 {
		t.Error("written byte counter should advance")
	}
}

func TestConn_ReadFrame(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"id":1,"result":{"ok":true}}`,
			`{"method":"ticker.update","params":{"last":42}}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	first, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !first.IsResponse() || first.ID != 1 {
		t.Errorf("first frame = %+v, want response with id 1", first)
	}

	second, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !second.IsEvent() || second.Method != "ticker.update" {
		t.Errorf("second frame = %+v, want ticker.update event", second)
	}

	read, _ := conn.Counters()
	if read == 0 {
		t.Error("read byte counter should advance")
	}
}

func TestConn_ReadFrame_Malformed(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":9,"result":{}}`))
		time.Sleep(time.Second)
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.ReadFrame()
	if !errors.Is(err, transport.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	// The connection survives a malformed frame.
	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after malformed failed: %v", err)
	}
	if frame.ID != 9 {
		t.Errorf("frame ID = %d, want 9", frame.ID)
	}
}

func TestConn_PingPong(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// The default server ping handler answers with a pong; it runs
		// inside ReadMessage.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Pong control frames are processed inside ReadFrame, so keep a
	// reader running like the connection layer does.
	go func() {
		for {
			if _, err := conn.ReadFrame(); err != nil {
				return
			}
		}
	}()

	if err := conn.Ping(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	select {
	case <-conn.Pongs():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pong")
	}
}

func TestConn_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	d := &Dialer{}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := conn.WriteFrame(&transport.Frame{ID: 1, Method: "x"}); !errors.Is(err, transport.ErrConnClosed) {
		t.Errorf("WriteFrame after Close = %v, want ErrConnClosed", err)
	}
}

func TestDialer_SendsHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer test-token")

	d := &Dialer{Header: header}
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	select {
	case auth := <-gotAuth:
		if auth != "Bearer test-token" {
			t.Errorf("Authorization header = %q, want %q", auth, "Bearer test-token")
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the upgrade request")
	}
}
