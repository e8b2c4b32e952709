// Package mock provides a recording implementation of [transport.Sink] for
// use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// Sink is a mock implementation of [transport.Sink]. It is safe for
// concurrent use.
type Sink struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send. The chunk is still
	// recorded in Attempts but not in Sent.
	SendErr error

	// SendFunc, if non-nil, is called by Send before recording. A non-nil
	// return value is treated like SendErr.
	SendFunc func(ctx context.Context, c chunker.Chunk) error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Attempts records every chunk passed to Send in call order.
	Attempts []chunker.Chunk

	// Sent records every chunk Send accepted.
	Sent []chunker.Chunk

	CloseCallCount int

	notify chan struct{}
}

var _ transport.Sink = (*Sink)(nil)

// Send records the chunk and returns SendFunc's or SendErr's result.
func (s *Sink) Send(ctx context.Context, c chunker.Chunk) error {
	var err error
	if s.SendFunc != nil {
		err = s.SendFunc(ctx, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts = append(s.Attempts, c)
	if err == nil {
		err = s.SendErr
	}
	if err == nil {
		s.Sent = append(s.Sent, c)
	}
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return err
}

// Close records the call and returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Notify returns a channel that receives a value after each Send call.
// Values are dropped while nobody is receiving.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 1)
	}
	return s.notify
}

// SentChunks returns a copy of the accepted chunks. Thread-safe.
func (s *Sink) SentChunks() []chunker.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chunker.Chunk, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// AttemptedChunks returns a copy of every chunk passed to Send. Thread-safe.
func (s *Sink) AttemptedChunks() []chunker.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chunker.Chunk, len(s.Attempts))
	copy(out, s.Attempts)
	return out
}

// AttemptCount returns the number of Send calls so far. Thread-safe.
func (s *Sink) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Attempts)
}

// Closes returns the number of Close calls so far. Thread-safe.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
