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

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// OpenAIProvider struct + constructor
// ---------------------------------------------------------------------------

// OpenAIProvider implements the Provider interface for any hosted backend
// that speaks the OpenAI chat-completions format (OpenAI itself, but also
// the many compatible APIs — DeepSeek, vLLM, and friends).
//
// Because our public surface IS the OpenAI format, this adapter has almost
// no translation to do: the canonical request body is forwarded verbatim,
// and the response body decodes directly into ChatResponse. Its real job is
// auth headers and error classification.
type OpenAIProvider struct {
	baseURL string // e.g. "https://api.openai.com"
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAIProvider creates an OpenAIProvider ready to make API calls.
func NewOpenAIProvider(baseURL, apiKey string, client *http.Client, logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

var _ Provider = (*OpenAIProvider)(nil)

// ---------------------------------------------------------------------------
// Upstream SSE chunk shape (unexported)
// ---------------------------------------------------------------------------

// openaiStreamChunk is the JSON payload inside each upstream "data:" line.
// It's the same canonical chunk shape we emit to our own clients; only the
// fields StreamChunk has a place for are carried over.
type openaiStreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    *string `json:"role,omitempty"`
			Content string  `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// post forwards the canonical request body to {baseURL}/v1/chat/completions
// with bearer auth, classifying failures the same way the Ollama adapter
// does. The request is marshaled from the canonical struct unchanged —
// only the stream flag is forced to the caller's choice.
func (p *OpenAIProvider) post(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	forwarded := *req
	forwarded.Stream = stream

	body, err := json.Marshal(&forwarded)
	if err != nil {
		return nil, ParseError(err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", p.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NetworkError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NetworkError(err)
	}

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

// ChatCompletion forwards the request and decodes the upstream body directly
// as a canonical ChatResponse. No reshaping: the upstream already speaks
// our wire format, so whatever id/created/usage it returns is what the
// client sees.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	httpResp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, ParseError(err)
	}

	return &resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

// ChatCompletionStream opens an upstream SSE stream and relays it as
// StreamChunks. Each "data:" payload is decoded just far enough to fill a
// StreamChunk (preserving the upstream's id, created and model), and the
// SSE writer on our side re-encodes it in its own chunk shape. The relay
// is not byte-for-byte: only the first choice's delta content, whether a
// finish_reason was set, and usage are carried; the delta role and any
// other upstream fields are dropped, and every finish_reason goes out as
// "stop". Events with no choices are skipped.
//
// Transport errors mid-stream map to a Network in-band error.
func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpResp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()

			// SSE frames are "data: <payload>" lines separated by blank
			// lines. Everything else (blank separators, comment lines)
			// is skipped.
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				// The upstream terminator. We don't forward it as a
				// chunk — our own SSE writer appends its own [DONE]
				// when the channel closes.
				return
			}

			var upstream openaiStreamChunk
			if err := json.Unmarshal([]byte(payload), &upstream); err != nil {
				p.logger.Warn("failed to parse openai stream event", zap.Error(err))
				continue
			}
			if len(upstream.Choices) == 0 {
				continue
			}

			choice := upstream.Choices[0]

			chunk := StreamChunk{
				ID:      upstream.ID,
				Model:   upstream.Model,
				Created: upstream.Created,
				Delta:   choice.Delta.Content,
				Done:    choice.FinishReason != nil,
				Usage:   upstream.Usage,
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamChunk{Err: NetworkError(fmt.Errorf("reading openai stream: %w", err))}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
