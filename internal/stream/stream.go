// Package stream renders provider stream chunks as OpenAI-compatible
// Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/howard-nolan/ai-gateway/internal/provider"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// OpenAI-compatible SSE event types
// ---------------------------------------------------------------------------

// These structs define the JSON shape inside each SSE event during
// streaming — the "chat.completion.chunk" object that OpenAI clients
// expect. They're private to this package; no other code needs to know
// the wire format details.

// sseChunk is the top-level JSON object in each SSE event.
type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	Model   string      `json:"model"`
	Choices []sseChoice `json:"choices"`

	// Usage is included only on the final chunk (when it's available).
	// The pointer + omitempty combo means: if Usage is nil, don't include
	// the "usage" key in the JSON at all. This matches OpenAI's behavior
	// where usage only appears on the last event.
	Usage *provider.Usage `json:"usage,omitempty"`
}

// sseChoice represents one choice in the streaming response.
// OpenAI supports multiple choices (n > 1), but we always return one.
type sseChoice struct {
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`

	// FinishReason is null for all chunks except the final one. We use
	// *string so that nil renders as JSON null — a plain string would
	// serialize as "" on every non-final chunk, which is wrong.
	FinishReason *string `json:"finish_reason"`
}

// sseDelta holds the incremental content in each chunk. Role is omitted
// when nil; Content is always serialized, even when empty, so the final
// chunk reads {"delta":{"content":""}} rather than {"delta":{}}.
type sseDelta struct {
	Role    *string `json:"role,omitempty"`
	Content string  `json:"content"`
}

// ---------------------------------------------------------------------------
// SSE Writer
// ---------------------------------------------------------------------------

// Write reads StreamChunks from the channel and writes them to the
// http.ResponseWriter as OpenAI-compatible Server-Sent Events.
//
// This is the consumer side of the streaming pipeline:
//   provider goroutine → channel → Write() → http.ResponseWriter → client
//
// onUsage, when non-nil, is invoked with the terminal chunk's usage so the
// caller can record token counts — the chunks themselves are forwarded to
// the client either way.
//
// Termination contract: whatever happens — clean upstream end or a
// mid-stream failure reported via StreamChunk.Err — the last frame written
// is "data: [DONE]\n\n". Partial completions are not retried.
func Write(w http.ResponseWriter, chunks <-chan provider.StreamChunk, logger *zap.Logger, onUsage func(model string, usage provider.Usage)) error {
	// The concrete ResponseWriter the HTTP server hands us also implements
	// http.Flusher; we need Flush() to push each event to the client
	// immediately instead of waiting for the 4KB buffer to fill. The
	// two-value type assertion keeps a non-flushing writer (unlikely
	// outside tests) from panicking.
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	// SSE headers. These must be set before the first Write — once body
	// bytes go out, headers are locked in.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var writeErr error

	// for chunk := range chunks reads until the provider goroutine closes
	// the channel. Each iteration blocks until the next chunk arrives.
	for chunk := range chunks {
		// A mid-stream failure from the provider. The status line and
		// headers are long gone, so there's no way to turn this into an
		// HTTP error — we log it, stop forwarding, and fall through to
		// the [DONE] sentinel so the client sees a terminated stream
		// rather than a connection cut.
		if chunk.Err != nil {
			logger.Warn("stream error", zap.Error(chunk.Err))
			writeErr = chunk.Err
			break
		}

		event := sseChunk{
			ID:      chunk.ID,
			Object:  "chat.completion.chunk",
			Created: chunk.Created,
			Model:   chunk.Model,
			Choices: []sseChoice{
				{
					Index: 0,
					Delta: sseDelta{Content: chunk.Delta},
				},
			},
		}

		// The terminal chunk carries finish_reason "stop" and, when the
		// provider reported counts, the usage object. A terminal chunk
		// may also still carry content — it goes out in the same event.
		if chunk.Done {
			reason := "stop"
			event.Choices[0].FinishReason = &reason
			event.Usage = chunk.Usage

			if chunk.Usage != nil && onUsage != nil {
				onUsage(chunk.Model, *chunk.Usage)
			}
		}

		jsonBytes, err := json.Marshal(event)
		if err != nil {
			logger.Error("failed to marshal SSE chunk", zap.Error(err))
			writeErr = err
			break
		}

		// The SSE framing: "data: {json}\n\n". The blank line is what
		// tells the client "this event is complete, process it."
		if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
			// The client went away; the provider goroutine will notice
			// via context cancellation. No sentinel for a dead socket.
			return fmt.Errorf("writing SSE event: %w", err)
		}

		// Flush after every event — without this, Go's HTTP server
		// buffers the output and the client wouldn't see tokens until
		// the buffer fills or the handler returns.
		flusher.Flush()
	}

	// The [DONE] sentinel is an OpenAI convention that tells the client
	// the stream is complete. It's not JSON — clients look for the
	// literal string. It is sent even after a mid-stream failure, so a
	// well-behaved client always sees a terminated stream.
	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return writeErr
}
