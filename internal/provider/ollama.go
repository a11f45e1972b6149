package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// OllamaProvider struct + constructor
// ---------------------------------------------------------------------------

// OllamaProvider implements the Provider interface for a local Ollama server.
// Ollama doesn't speak the OpenAI format: requests go to /api/chat, and
// streaming responses come back as newline-delimited JSON objects instead of
// SSE. So this adapter does real translation work in both directions —
// unlike the OpenAI adapter, which mostly forwards bytes.
type OllamaProvider struct {
	baseURL string // e.g. "http://localhost:11434"
	client  *http.Client
	logger  *zap.Logger
}

// NewOllamaProvider creates an OllamaProvider ready to make API calls.
// The http.Client is injected so tests can point it at a fake server;
// it should have no overall timeout, since streams can run for minutes.
func NewOllamaProvider(baseURL string, client *http.Client, logger *zap.Logger) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// Compile-time interface check.
var _ Provider = (*OllamaProvider)(nil)

// ---------------------------------------------------------------------------
// Ollama API types (unexported)
// ---------------------------------------------------------------------------

// ollamaRequest is the body for POST /api/chat. The message shape is the
// same role + content pair as OpenAI's, so we reuse Message directly.
// The one mandatory difference: "stream" is a plain bool that Ollama always
// wants present (it defaults to true upstream, which would surprise the
// non-streaming path).
type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaResponse is the non-streaming response from /api/chat.
//
// Key differences from the OpenAI shape:
//   - no id, no choices array — just a single "message"
//   - "done" instead of finish_reason
//   - token counts are prompt_eval_count / eval_count
//   - created_at is an RFC3339 string, not unix seconds
type ollamaResponse struct {
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration"`
	PromptEvalCount uint64  `json:"prompt_eval_count"`
	EvalCount       uint64  `json:"eval_count"`
}

// ollamaStreamLine is one line of the streaming response. Ollama emits one
// JSON object per generated token, each on its own line. The token counts
// are pointers because they only appear on the final (done=true) line —
// absent counts default to zero.
type ollamaStreamLine struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount *uint64 `json:"prompt_eval_count,omitempty"`
	EvalCount       *uint64 `json:"eval_count,omitempty"`
}

// newCompletionID builds the canonical response id. OpenAI clients expect
// the "chatcmpl-" prefix; the rest is just a fresh UUIDv4.
func newCompletionID() string {
	return fmt.Sprintf("chatcmpl-%s", uuid.NewString())
}

// ---------------------------------------------------------------------------
// Shared request plumbing
// ---------------------------------------------------------------------------

// post sends the translated request to /api/chat and classifies transport
// and upstream failures. Both the streaming and non-streaming paths start
// here; only the "stream" flag differs.
func (o *OllamaProvider) post(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, ParseError(err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NetworkError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, NetworkError(err)
	}

	// A non-2xx status means Ollama itself rejected the request (unknown
	// model, bad body). Surface the upstream's status and message as-is.
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, UpstreamError(httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return httpResp, nil
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

// ChatCompletion sends a non-streaming request to /api/chat and synthesizes
// an OpenAI-format response from Ollama's answer: fresh id, created = now,
// a single choice with finish_reason "stop", and usage populated from
// Ollama's eval counts.
func (o *OllamaProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	httpResp, err := o.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var data ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&data); err != nil {
		return nil, ParseError(err)
	}

	resp := &ChatResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   data.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      data.Message,
				FinishReason: "stop",
			},
		},
		Usage: Usage{
			PromptTokens:     data.PromptEvalCount,
			CompletionTokens: data.EvalCount,
			TotalTokens:      data.PromptEvalCount + data.EvalCount,
		},
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream — the line-JSON → chunk translator
// ---------------------------------------------------------------------------

// ChatCompletionStream opens a streaming request to /api/chat and returns a
// channel of StreamChunks translated from Ollama's newline-delimited JSON.
//
// The translation rules:
//   - every chunk of one request shares the same id and created timestamp
//   - lines with empty content that aren't the final line are suppressed
//     (Ollama emits the occasional keep-alive-ish empty token)
//   - a line that fails to parse is logged and skipped; the stream goes on
//   - the final (done=true) line carries the token counts, which become
//     the Usage on the final chunk
//   - a read failure mid-stream is reported in-band via StreamChunk.Err;
//     the channel still closes normally so the SSE writer can terminate
//     the response gracefully
func (o *OllamaProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpResp, err := o.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	// Values shared by every chunk of this request. The model name comes
	// from the request (what the client asked for); the non-streaming path
	// instead echoes the model Ollama reports in its response.
	responseID := newCompletionID()
	created := time.Now().Unix()
	model := req.Model

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		// bufio.Scanner does the line assembly for us: it buffers bytes
		// across reads and only hands us complete lines. That matters —
		// a JSON line can easily straddle two TCP reads, and decoding
		// each read in isolation would corrupt exactly those lines.
		// The buffer is enlarged because a single line holds a whole
		// JSON object, which can exceed Scanner's 64KB default.
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			var ollamaChunk ollamaStreamLine
			if err := json.Unmarshal([]byte(line), &ollamaChunk); err != nil {
				// One bad line doesn't kill the stream — log and move on.
				o.logger.Warn("failed to parse ollama stream line", zap.Error(err))
				continue
			}

			// Suppress empty non-final chunks: nothing to show the client.
			if ollamaChunk.Message.Content == "" && !ollamaChunk.Done {
				continue
			}

			chunk := StreamChunk{
				ID:      responseID,
				Model:   model,
				Created: created,
				Delta:   ollamaChunk.Message.Content,
				Done:    ollamaChunk.Done,
			}

			if ollamaChunk.Done {
				chunk.Usage = &Usage{
					PromptTokens:     derefCount(ollamaChunk.PromptEvalCount),
					CompletionTokens: derefCount(ollamaChunk.EvalCount),
					TotalTokens:      derefCount(ollamaChunk.PromptEvalCount) + derefCount(ollamaChunk.EvalCount),
				}
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}

		// The upstream byte stream failed mid-flight. Report it in-band;
		// the SSE writer terminates the client stream gracefully (it
		// still sends [DONE]) and nothing is retried.
		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamChunk{Err: fmt.Errorf("reading ollama stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// derefCount unwraps an optional token count, defaulting to zero.
func derefCount(n *uint64) uint64 {
	if n == nil {
		return 0
	}
	return *n
}

// ---------------------------------------------------------------------------
// Model listing
// ---------------------------------------------------------------------------

// ollamaTags is the response from GET /api/tags (the local model library).
type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels enumerates the models the local server has pulled. This is
// the capability behind GET /v1/models; it's not part of the core
// Provider contract.
func (o *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/api/tags", o.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NetworkError(err)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, NetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg, _ := io.ReadAll(httpResp.Body)
		return nil, UpstreamError(httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tags ollamaTags
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return nil, ParseError(err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
