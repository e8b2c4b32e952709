package transport_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The server is automatically
// closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func testChunk(seq uint64) chunker.Chunk {
	c := chunker.New(4)
	for range seq {
		c.Encode(make([]float32, 4))
	}
	return c.Encode([]float32{0.5, -1, 1, 0})
}

// ── WebSocketSink ─────────────────────────────────────────────────────────────

func TestWebSocketSink_SendsMessagesInOrder(t *testing.T) {
	t.Parallel()

	got := make(chan transport.Message, 3)
	headers := make(chan http.Header, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header
		for range 3 {
			var msg transport.Message
			readJSON(t, conn, &msg)
			got <- msg
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	sink, err := transport.DialWebSocket(context.Background(), wsURL(srv),
		transport.WithHeader("Authorization", "Bearer token"),
		transport.WithKeepalive(0),
	)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer sink.Close()

	for seq := range uint64(3) {
		if err := sink.Send(context.Background(), testChunk(seq)); err != nil {
			t.Fatalf("Send %d: %v", seq, err)
		}
	}

	if h := <-headers; h.Get("Authorization") != "Bearer token" {
		t.Errorf("Authorization header = %q", h.Get("Authorization"))
	}
	want := testChunk(0)
	for i := range 3 {
		select {
		case msg := <-got:
			if msg.MIMEType != "audio/pcm;rate=24000" {
				t.Errorf("message %d: mimeType = %q", i, msg.MIMEType)
			}
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				t.Fatalf("message %d: base64: %v", i, err)
			}
			if string(data) != string(want.Data) {
				t.Errorf("message %d: data = %v, want %v", i, data, want.Data)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestWebSocketSink_SendAfterClose(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	sink, err := transport.DialWebSocket(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	_ = sink.Close()
	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sink.Send(context.Background(), testChunk(0)); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestWebSocketSink_ServerGoneFailsSend(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Close(websocket.StatusGoingAway, "bye")
	})
	sink, err := transport.DialWebSocket(context.Background(), wsURL(srv), transport.WithKeepalive(0))
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer sink.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := sink.Send(context.Background(), testChunk(0)); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Send kept succeeding after the server closed the connection")
}

func TestDialWebSocket_Unreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := transport.DialWebSocket(ctx, "ws://127.0.0.1:1/none"); err == nil {
		t.Fatal("expected dial error")
	}
}

// ── LogSink ───────────────────────────────────────────────────────────────────

func TestLogSink(t *testing.T) {
	t.Parallel()

	s := transport.NewLogSink()
	for seq := range uint64(2) {
		if err := s.Send(context.Background(), testChunk(seq)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if s.Sent() != 2 {
		t.Errorf("Sent() = %d, want 2", s.Sent())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, testChunk(2)); !errors.Is(err, context.Canceled) {
		t.Errorf("Send with cancelled ctx = %v, want context.Canceled", err)
	}

	_ = s.Close()
	if err := s.Send(context.Background(), testChunk(3)); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestNewMessage(t *testing.T) {
	t.Parallel()

	c := testChunk(7)
	msg := transport.NewMessage(c)
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["mimeType"] != "audio/pcm;rate=24000" || raw["data"] != c.Base64() {
		t.Errorf("wire form = %v", raw)
	}
	if c.Seq != 7 {
		t.Errorf("Seq = %d, want 7", c.Seq)
	}
}
