package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/howard-nolan/ai-gateway/internal/metrics"
	"github.com/howard-nolan/ai-gateway/internal/middleware"
	"github.com/howard-nolan/ai-gateway/internal/provider"
	"github.com/howard-nolan/ai-gateway/internal/stream"
	"github.com/howard-nolan/ai-gateway/internal/tracker"
	"go.uber.org/zap"
)

// handleHealth is the liveness probe: 200 and the literal body "ok".
// It sits outside the auth chain so load balancers can poll it bare.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ---------------------------------------------------------------------------
// POST /v1/chat/completions
// ---------------------------------------------------------------------------

// handleChatCompletions decodes the request and dispatches to either the
// streaming or non-streaming path. Token usage from successful responses
// is recorded into the tracker under the caller's key — that's the second
// of the tracker's two writers (the first is the tracking middleware,
// which counts the request itself).
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// The key the usage gets attributed to. Chat always sits behind
	// Auth, so the caller is present; "unknown" matches the tracking
	// middleware's fallback should the chain ever be reordered.
	key := "unknown"
	if caller, ok := middleware.CallerFromRequest(r); ok {
		key = caller.Key
	}

	if req.Stream {
		s.streamChatCompletion(w, r, &req, key)
		return
	}

	resp, err := s.provider.ChatCompletion(r.Context(), &req)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}

	s.recordUsage(key, responseModel(resp.Model, &req), resp.Usage)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// streamChatCompletion establishes the upstream stream and pipes it to the
// client as SSE. Establishment failures still map to proper HTTP errors;
// once the stream is flowing, failures terminate it gracefully (the
// [DONE] sentinel is always the last frame).
//
// The usage interceptor watches the chunks as they pass: when the terminal
// chunk carries token counts, they're recorded exactly as in the
// non-streaming path. The chunks reach the client either way.
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, req *provider.ChatRequest, key string) {
	chunks, err := s.provider.ChatCompletionStream(r.Context(), req)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}

	onUsage := func(model string, usage provider.Usage) {
		s.recordUsage(key, responseModel(model, req), usage)
	}

	if err := stream.Write(w, chunks, s.logger, onUsage); err != nil {
		// Headers are long gone; nothing to send the client beyond what
		// stream.Write already did.
		s.logger.Warn("stream terminated with error", zap.Error(err))
	}
}

// recordUsage writes one response's token counts to the tracker and the
// Prometheus counters.
func (s *Server) recordUsage(key, model string, usage provider.Usage) {
	s.tracker.RecordTokens(key, usage.PromptTokens, usage.CompletionTokens, model)
	metrics.ObserveTokens(model, usage.PromptTokens, usage.CompletionTokens)
}

// responseModel prefers the model the backend reported, falling back to
// what the client asked for.
func responseModel(reported string, req *provider.ChatRequest) string {
	if reported != "" {
		return reported
	}
	return req.Model
}

// writeProviderError maps a provider failure onto the client-facing error
// taxonomy: network failures read "Provider unavailable", parse failures
// "Failed to parse response", and upstream rejections pass the backend's
// own status and message through unchanged.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	s.logger.Error("provider error", zap.Error(err))

	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.ErrNetwork:
			http.Error(w, "Provider unavailable: "+perr.Message, http.StatusBadGateway)
		case provider.ErrParse:
			http.Error(w, "Failed to parse response: "+perr.Message, http.StatusInternalServerError)
		case provider.ErrUpstream:
			http.Error(w, perr.Message, perr.Status)
		default:
			http.Error(w, perr.Message, http.StatusInternalServerError)
		}
		return
	}

	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// ---------------------------------------------------------------------------
// GET /v1/models
// ---------------------------------------------------------------------------

// modelLister is the optional capability some providers have of
// enumerating their models (Ollama can; a fallback composition asks its
// primary). The core Provider contract stays at two operations.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// openaiModel is one entry in the OpenAI-style model list.
type openaiModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// handleModels returns the models the active backend can serve, in the
// OpenAI list shape, so SDK clients' models.list() calls work against the
// gateway. A backend that can't enumerate yields an empty list rather
// than an error.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var names []string
	if lister, ok := s.provider.(modelLister); ok {
		var err error
		names, err = lister.ListModels(r.Context())
		if err != nil {
			s.writeProviderError(w, err)
			return
		}
	}

	data := make([]openaiModel, 0, len(names))
	for _, name := range names {
		data = append(data, openaiModel{ID: name, Object: "model", OwnedBy: s.provider.Name()})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
	})
}

// ---------------------------------------------------------------------------
// GET /v1/stats
// ---------------------------------------------------------------------------

// keyStatsResponse is the client-facing view of one key's stats: the key
// masked, the latency average derived, everything else copied through.
type keyStatsResponse struct {
	APIKey                string            `json:"api_key"`
	RequestCount          uint64            `json:"request_count"`
	ErrorCount            uint64            `json:"error_count"`
	TotalLatencyMS        uint64            `json:"total_latency_ms"`
	AvgLatencyMS          float64           `json:"avg_latency_ms"`
	TotalPromptTokens     uint64            `json:"total_prompt_tokens"`
	TotalCompletionTokens uint64            `json:"total_completion_tokens"`
	LastRequestTimestamp  int64             `json:"last_request_timestamp"`
	ModelsUsed            map[string]uint64 `json:"models_used"`
}

// handleStats serves usage telemetry, role-dependent:
//
//   - users get their own stats, always — the ?key query is ignored, and
//     a key with no history gets a zeroed structure rather than a 404
//   - admins get any key's stats via ?key (404 if unseen), or the full
//     list without it
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromRequest(r)
	if !ok {
		// Unreachable with the standard chain; auth always runs first.
		http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if caller.Role == middleware.RoleAdmin {
		if target := r.URL.Query().Get("key"); target != "" {
			stats, found := s.tracker.Get(target)
			if !found {
				http.Error(w, "No stats for that key", http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(buildStatsResponse(target, stats))
			return
		}

		all := s.tracker.All()
		list := make([]keyStatsResponse, 0, len(all))
		for key, stats := range all {
			list = append(list, buildStatsResponse(key, stats))
		}
		json.NewEncoder(w).Encode(list)
		return
	}

	// User role: own stats only, zeroed if nothing recorded yet.
	stats, found := s.tracker.Get(caller.Key)
	if !found {
		stats = tracker.KeyStats{ModelsUsed: map[string]uint64{}}
	}
	json.NewEncoder(w).Encode(buildStatsResponse(caller.Key, stats))
}

// buildStatsResponse masks the key and derives avg_latency_ms.
func buildStatsResponse(key string, stats tracker.KeyStats) keyStatsResponse {
	var avg float64
	if stats.RequestCount > 0 {
		avg = float64(stats.TotalLatencyMS) / float64(stats.RequestCount)
	}

	return keyStatsResponse{
		APIKey:                maskKey(key),
		RequestCount:          stats.RequestCount,
		ErrorCount:            stats.ErrorCount,
		TotalLatencyMS:        stats.TotalLatencyMS,
		AvgLatencyMS:          avg,
		TotalPromptTokens:     stats.TotalPromptTokens,
		TotalCompletionTokens: stats.TotalCompletionTokens,
		LastRequestTimestamp:  stats.LastRequestTimestamp,
		ModelsUsed:            stats.ModelsUsed,
	}
}

// maskKey hides most of an API key: short keys (8 bytes or fewer) mask
// entirely, longer ones keep the first and last four characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", key[:4], key[len(key)-4:])
}
