package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
)

var _ Sink = (*LogSink)(nil)

// LogSink logs every chunk at debug level instead of sending it anywhere.
// It is useful for running the capture pipeline without a downstream
// service.
type LogSink struct {
	mu     sync.Mutex
	closed bool
	sent   uint64
}

// NewLogSink returns an open LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Send(ctx context.Context, c chunker.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent++
	slog.Debug("transport: chunk", "seq", c.Seq, "samples", c.Samples, "bytes", len(c.Data), "mime_type", c.MIMEType)
	return nil
}

// Sent returns the number of chunks accepted so far.
func (s *LogSink) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
