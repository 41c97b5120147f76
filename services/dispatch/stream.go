package dispatch

import (
	"context"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

// streamBuffer decouples the daemon read loop from the HTTP writer a little
// without hiding backpressure: a slow consumer still throttles the read.
const streamBuffer = 16

// StreamHandle exposes one streamed invocation as a channel of chunks.
//
// # Description
//
// The dispatcher starts a producer goroutine that reads the daemon's NDJSON
// stream and forwards each fragment onto the channel. The sequence is lazy,
// finite, and non-restartable: consume Chunks exactly once, to exhaustion,
// then call Err to learn whether it terminated cleanly.
//
// # Thread Safety
//
// One consumer only. Err blocks until the producer has finished.
type StreamHandle struct {
	chunks chan datatypes.StreamChunk
	done   chan struct{}
	err    error
}

func newStreamHandle() *StreamHandle {
	return &StreamHandle{
		chunks: make(chan datatypes.StreamChunk, streamBuffer),
		done:   make(chan struct{}),
	}
}

// Chunks returns the fragment channel. It is closed when the stream ends,
// whether cleanly or not.
func (h *StreamHandle) Chunks() <-chan datatypes.StreamChunk {
	return h.chunks
}

// Err reports how the stream terminated: nil for a clean end, the daemon or
// transport error otherwise. Blocks until the producer finishes, so drain
// Chunks first.
func (h *StreamHandle) Err() error {
	<-h.done
	return h.err
}

// emit forwards one chunk, giving up when ctx ends so an abandoned consumer
// cannot wedge the producer.
func (h *StreamHandle) emit(ctx context.Context, chunk datatypes.StreamChunk) error {
	select {
	case h.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the terminal error and closes the channel. Called exactly
// once by the producer.
func (h *StreamHandle) finish(err error) {
	h.err = err
	close(h.chunks)
	close(h.done)
}
