// Package provider defines the Provider interface and LLM provider adapters.
//
// Every LLM backend (Ollama, OpenAI-compatible hosted APIs) implements the
// Provider interface. The rest of the gateway works with these unified types —
// handlers, middleware, tracker — so they never need to know which provider
// is actually handling a request.
package provider

import "context"

// Provider is the interface that every LLM backend must satisfy.
// Go interfaces are implicit: any struct that has these three methods
// automatically implements Provider — no "implements" keyword needed.
type Provider interface {
	// Name returns the provider identifier, e.g. "ollama" or "openai".
	// Used for logging and metrics labels.
	Name() string

	// ChatCompletion sends a request and returns the complete response.
	// This is the non-streaming path (when the client sends stream: false).
	//
	// The context.Context parameter carries cancellation signals and
	// deadlines. If the client disconnects, ctx gets cancelled, and the
	// provider adapter should stop waiting for the upstream API.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatCompletionStream sends a request and returns a channel that
	// delivers response chunks as they arrive from the upstream API.
	//
	// The returned channel is receive-only (<-chan) — the caller can read
	// from it but not write to it. The adapter creates the channel
	// internally, writes chunks to it, and closes it when the stream ends.
	//
	// An error return means the stream could not be ESTABLISHED (connection
	// refused, upstream rejected the request). Failures that happen while
	// the stream is already flowing are reported in-band, on the channel,
	// via StreamChunk.Err — by then the HTTP status has already been sent
	// to the client, so there is nothing useful an error return could do.
	ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// ---------------------------------------------------------------------------
// Canonical request/response types (OpenAI wire shape)
// ---------------------------------------------------------------------------

// These structs ARE the public wire format. The HTTP handler decodes the
// incoming body into ChatRequest and encodes ChatResponse straight back out,
// so the JSON tags here define the gateway's OpenAI-compatible surface.
// Provider adapters translate between these and their backend-specific
// formats (or, for OpenAI-shaped backends, forward them verbatim).

// ChatRequest is an OpenAI-format chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"` // false = wait for the full response
}

// Message is a single message in the conversation: role + content pairs,
// exactly as OpenAI defines them.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatResponse is a complete (non-streaming) chat completion in OpenAI
// format. Adapters either decode it directly from the upstream body
// (OpenAI-shaped backends) or synthesize it (Ollama).
type ChatResponse struct {
	ID      string   `json:"id"`      // "chatcmpl-" + UUIDv4
	Object  string   `json:"object"`  // always "chat.completion"
	Created int64    `json:"created"` // unix seconds
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice. OpenAI supports n > 1; we always
// return exactly one, at index 0.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token count information. Every provider returns this in some
// form — we normalize it here. TotalTokens is always the sum of the other two.
type Usage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

// StreamChunk is one piece of a streaming response. The provider adapter
// sends these over a channel, and the SSE writer (stream package) reads
// them and flushes each one to the client as a server-sent event.
//
// ID and Created are stable across every chunk of a single request — the
// Ollama adapter picks them once when the stream is established; the
// OpenAI adapter carries over the values the upstream sends.
type StreamChunk struct {
	ID      string // response ID (same value across all chunks in one stream)
	Model   string // model name
	Created int64  // unix seconds, same value across all chunks
	Delta   string // the new text fragment in this chunk
	Done    bool   // true on the final chunk — signals the stream is complete

	// Usage is only populated on the final chunk (providers report token
	// counts at the end of a stream). It's a pointer so it can be nil on
	// all non-final chunks — like TypeScript's `usage?: Usage`.
	Usage *Usage

	// Err reports a mid-stream failure (upstream connection dropped, etc.).
	// The SSE writer logs it and terminates the stream gracefully; partial
	// completions are not retried.
	Err error
}
