package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/services/dispatch"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
)

// streamResponse writes a dispatched stream as newline-delimited JSON,
// flushing after every chunk.
//
// The first read decides the response shape: a stream that fails before
// producing anything still gets a proper error status instead of an empty
// 200. After that the status is committed; a mid-stream failure terminates
// the body and is logged, matching the transport-level end-of-stream
// contract.
func streamResponse(c *gin.Context, endpoint string, handle *dispatch.StreamHandle) {
	first, open := <-handle.Chunks()
	if !open {
		if err := handle.Err(); err != nil {
			writeError(c, endpoint, err)
			return
		}
		// Clean but empty stream. Nothing to frame.
		c.Status(http.StatusOK)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		return
	}

	start := time.Now()
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	enc := json.NewEncoder(c.Writer)

	writeChunk := func(chunk any) bool {
		if err := enc.Encode(chunk); err != nil {
			slog.Debug("Client went away mid-stream", "endpoint", endpoint, "error", err)
			return false
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	writing := writeChunk(first)
	for chunk := range handle.Chunks() {
		if writing {
			writing = writeChunk(chunk)
		}
		// Keep draining even after a write failure so the producer can
		// finish and the usage record gets written.
	}

	err := handle.Err()
	success := err == nil
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Stream terminated with error", "endpoint", endpoint, "error", err)
	}
	if m := observability.DefaultMetrics; m != nil {
		m.StreamEnded(endpoint, time.Since(start).Seconds(), success)
		m.RecordRequest(endpoint, success)
	}
}
