package provider

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// FallbackProvider tries a primary provider first and falls back to a backup
// if the primary fails. It implements Provider itself, so the rest of the
// gateway can't tell the difference between a bare backend and a composed
// one — and two FallbackProviders could be nested if a second hop were
// ever needed. A single instance performs exactly one fallback hop.
type FallbackProvider struct {
	primary Provider
	backup  Provider

	// fallbackModel, when non-empty, replaces the request's model on the
	// backup call. The typical setup pairs a local model name (primary)
	// with a hosted model name (backup) — the client's model string only
	// means something to the primary.
	fallbackModel string

	logger     *zap.Logger
	streamWarn sync.Once
}

// NewFallbackProvider composes primary and backup. fallbackModel may be
// empty, in which case the backup sees the request unchanged.
func NewFallbackProvider(primary, backup Provider, fallbackModel string, logger *zap.Logger) *FallbackProvider {
	return &FallbackProvider{
		primary:       primary,
		backup:        backup,
		fallbackModel: fallbackModel,
		logger:        logger,
	}
}

// Name returns the provider identifier.
func (f *FallbackProvider) Name() string {
	return "fallback"
}

var _ Provider = (*FallbackProvider)(nil)

// ChatCompletion invokes the primary; on ANY provider error it logs a
// warning and invokes the backup with the same request (model swapped if a
// fallback model is configured). The backup's result — success or failure —
// is returned verbatim; there is no second hop.
func (f *FallbackProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := f.primary.ChatCompletion(ctx, req)
	if err == nil {
		return resp, nil
	}

	f.logger.Warn("primary provider failed, switching to backup",
		zap.String("primary", f.primary.Name()),
		zap.String("backup", f.backup.Name()),
		zap.Error(err),
	)

	// Copy the request before touching the model field — the caller still
	// owns theirs, and the backup hop is "same request, possibly
	// different model".
	backupReq := *req
	if f.fallbackModel != "" {
		backupReq.Model = f.fallbackModel
	}

	return f.backup.ChatCompletion(ctx, &backupReq)
}

// ListModels delegates to the primary, when it can enumerate. Clients ask
// "what can I send you" — and what they send goes to the primary first.
func (f *FallbackProvider) ListModels(ctx context.Context) ([]string, error) {
	if lister, ok := f.primary.(interface {
		ListModels(ctx context.Context) ([]string, error)
	}); ok {
		return lister.ListModels(ctx)
	}
	return nil, nil
}

// ChatCompletionStream delegates to the primary only. Falling back
// mid-stream would need duplicate-emission safety (the client may already
// have received chunks from the primary), so streams never use the backup.
// The limitation is logged once per process rather than per request.
func (f *FallbackProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	f.streamWarn.Do(func() {
		f.logger.Warn("streaming fallback is not supported; streams use the primary provider only",
			zap.String("primary", f.primary.Name()),
		)
	})
	return f.primary.ChatCompletionStream(ctx, req)
}
