package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProvider lets each test script the primary/backup behavior.
type stubProvider struct {
	name      string
	chatFn    func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	streamFn  func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	chatCalls []*ChatRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.chatCalls = append(s.chatCalls, req)
	return s.chatFn(ctx, req)
}

func (s *stubProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return s.streamFn(ctx, req)
}

func okResponse(model string) *ChatResponse {
	return &ChatResponse{
		ID:      "chatcmpl-stub",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   model,
		Choices: []Choice{{Index: 0, Message: Message{Role: "assistant", Content: "ok"}, FinishReason: "stop"}},
	}
}

func TestFallbackPrimarySuccess(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) { return okResponse("local"), nil },
	}
	backup := &stubProvider{
		name: "backup",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			t.Fatal("backup must not be called when the primary succeeds")
			return nil, nil
		},
	}

	f := NewFallbackProvider(primary, backup, "", zap.NewNop())

	resp, err := f.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "local", resp.Model)
	assert.Empty(t, backup.chatCalls)
}

func TestFallbackOnPrimaryError(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, NetworkError(assert.AnError)
		},
	}
	backup := &stubProvider{
		name:   "backup",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) { return okResponse("hosted"), nil },
	}

	f := NewFallbackProvider(primary, backup, "", zap.NewNop())

	resp, err := f.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hosted", resp.Model)

	// Without a fallback model configured, the backup sees the request's
	// original model.
	require.Len(t, backup.chatCalls, 1)
	assert.Equal(t, "llama3", backup.chatCalls[0].Model)
}

func TestFallbackSwapsModel(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, UpstreamError(500, "boom")
		},
	}
	backup := &stubProvider{
		name:   "backup",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) { return okResponse(req.Model), nil },
	}

	f := NewFallbackProvider(primary, backup, "gpt-4o-mini", zap.NewNop())

	req := testRequest()
	resp, err := f.ChatCompletion(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, backup.chatCalls, 1)
	assert.Equal(t, "gpt-4o-mini", backup.chatCalls[0].Model)
	assert.Equal(t, "gpt-4o-mini", resp.Model)

	// The caller's request is left alone — the swap happens on a copy.
	assert.Equal(t, "llama3", req.Model)
	// Messages ride along unchanged.
	assert.Equal(t, req.Messages, backup.chatCalls[0].Messages)
}

func TestFallbackBackupErrorReturnedVerbatim(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, NetworkError(assert.AnError)
		},
	}
	backupErr := UpstreamError(429, "quota exhausted")
	backup := &stubProvider{
		name:   "backup",
		chatFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) { return nil, backupErr },
	}

	f := NewFallbackProvider(primary, backup, "", zap.NewNop())

	_, err := f.ChatCompletion(context.Background(), testRequest())
	require.Error(t, err)

	// One hop only: the backup's failure is the final answer.
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrUpstream, perr.Kind)
	assert.Equal(t, 429, perr.Status)
}

func TestFallbackStreamUsesPrimaryOnly(t *testing.T) {
	streamed := make(chan StreamChunk)
	close(streamed)

	primary := &stubProvider{
		name: "primary",
		streamFn: func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
			return streamed, nil
		},
	}
	backup := &stubProvider{
		name: "backup",
		streamFn: func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
			t.Fatal("streams must never hit the backup")
			return nil, nil
		},
	}

	f := NewFallbackProvider(primary, backup, "", zap.NewNop())

	ch, err := f.ChatCompletionStream(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotNil(t, ch)

	// Even when the primary can't establish the stream, there is no
	// second attempt.
	primary.streamFn = func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
		return nil, NetworkError(assert.AnError)
	}
	_, err = f.ChatCompletionStream(context.Background(), testRequest())
	require.Error(t, err)
}
