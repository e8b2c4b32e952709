// Package transport delivers encoded audio chunks to the downstream service.
//
// A [Sink] receives chunks strictly in order from a single emitter goroutine.
// Delivery is at-most-once: a failed Send is reported to the caller, which
// logs and drops the chunk.
package transport

import (
	"context"
	"errors"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
)

// ErrClosed is returned by Send after the sink has been closed.
var ErrClosed = errors.New("transport: sink closed")

// Sink is an outbound destination for audio chunks.
//
// Implementations must be safe for concurrent use, although the pipeline
// only calls Send from one goroutine at a time.
type Sink interface {
	// Send delivers one chunk. It must respect ctx cancellation.
	Send(ctx context.Context, c chunker.Chunk) error

	// Close releases the sink. Calling Close more than once is safe.
	Close() error
}

// Message is the JSON wire form of a chunk.
type Message struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// NewMessage builds the wire form of c.
func NewMessage(c chunker.Chunk) Message {
	return Message{Data: c.Base64(), MIMEType: c.MIMEType}
}
