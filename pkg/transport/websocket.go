package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
)

const (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Compile-time interface assertion.
var _ Sink = (*WebSocketSink)(nil)

// WebSocketOption configures [DialWebSocket].
type WebSocketOption func(*wsOptions)

type wsOptions struct {
	header    http.Header
	keepalive time.Duration
}

// WithHeader adds an HTTP header to the opening handshake.
func WithHeader(key, value string) WebSocketOption {
	return func(o *wsOptions) {
		o.header.Add(key, value)
	}
}

// WithKeepalive sets the ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) WebSocketOption {
	return func(o *wsOptions) {
		o.keepalive = d
	}
}

// WebSocketSink sends each chunk as one JSON text message over a websocket.
type WebSocketSink struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// DialWebSocket connects to url and returns a ready sink. Messages the server
// sends back are read and discarded so that control frames are handled.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOption) (*WebSocketSink, error) {
	o := wsOptions{
		header:    http.Header{"Content-Type": []string{"application/json"}},
		keepalive: keepaliveInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: o.header})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	sinkCtx, cancel := context.WithCancelCause(context.Background())
	s := &WebSocketSink{
		conn:   conn,
		ctx:    sinkCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	if o.keepalive > 0 {
		go s.keepaliveLoop(o.keepalive)
	}
	slog.Info("transport: websocket connected", "url", url)
	return s, nil
}

// Send writes c as a JSON text message.
func (s *WebSocketSink) Send(ctx context.Context, c chunker.Chunk) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("transport: connection lost: %w", context.Cause(s.ctx))
	}

	data, err := json.Marshal(NewMessage(c))
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write chunk %d: %w", c.Seq, err)
	}
	return nil
}

// readLoop discards server messages until the connection fails, then
// cancels the sink context with the read error.
func (s *WebSocketSink) readLoop() {
	for {
		if _, _, err := s.conn.Read(s.ctx); err != nil {
			s.cancel(err)
			return
		}
	}
}

func (s *WebSocketSink) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil {
				slog.Debug("transport: websocket ping failed", "err", err)
			}
			cancel()
		}
	}
}

// Close terminates the connection. Idempotent.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.cancel(ErrClosed)
	return err
}
