package speech

import (
	"context"
	"io"
	"sync"
)

// Source yields captured audio chunks. Read blocks until a chunk is available;
// final marks the end of the utterance. io.EOF means the source is closed.
type Source interface {
	Read(ctx context.Context) (chunk []byte, final bool, err error)
}

type sourceChunk struct {
	data  []byte
	final bool
}

// StreamSource is a Source fed by a producer, typically a websocket reader.
type StreamSource struct {
	ch        chan sourceChunk
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamSource returns a source buffering up to capacity chunks.
func NewStreamSource(capacity int) *StreamSource {
	if capacity <= 0 {
		capacity = 32
	}
	return &StreamSource{
		ch:   make(chan sourceChunk, capacity),
		done: make(chan struct{}),
	}
}

// Push queues a chunk without blocking. It reports false when the source is closed
// or the buffer is full; the chunk is dropped in both cases.
func (s *StreamSource) Push(data []byte, final bool) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- sourceChunk{data: data, final: final}:
		return true
	default:
		return false
	}
}

// Close wakes any blocked reader with io.EOF.
func (s *StreamSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Read implements Source.
func (s *StreamSource) Read(ctx context.Context) ([]byte, bool, error) {
	select {
	case c := <-s.ch:
		return c.data, c.final, nil
	case <-s.done:
		return nil, false, io.EOF
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Drain discards chunks left over from a previous turn.
func (s *StreamSource) Drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}
