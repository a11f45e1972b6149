package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/howard-nolan/ai-gateway/internal/tracker"
	"go.uber.org/zap"
)

// unknownKey is the synthetic key under which requests without a validated
// caller are tracked. With the standard chain (Auth runs first) it should
// never appear; it exists so a misconfigured route can't lose telemetry.
const unknownKey = "unknown"

// Tracking returns a middleware that measures wall latency from entry to
// response emission and records one request per pass into the tracker.
// Only server-side failures (status >= 500) count as errors — a client's
// 4xx is their problem, not the gateway's.
//
// Token counts are NOT recorded here; the chat handler does that when it
// has a response with usage in hand. The two writes meet in the tracker,
// which accepts them in either order.
func Tracking(trk *tracker.Tracker, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := unknownKey
			if caller, ok := CallerFromRequest(r); ok {
				key = caller.Key
			}

			// http.ResponseWriter doesn't expose the status code that was
			// written, so wrap it. chi's WrapResponseWriter also keeps the
			// Flusher passthrough intact, which the SSE path depends on.
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			next.ServeHTTP(ww, r)
			latency := uint64(time.Since(start).Milliseconds())

			isError := ww.Status() >= http.StatusInternalServerError
			trk.RecordRequest(key, latency, isError)

			logger.Info("tracked request",
				zap.String("api_key", key),
				zap.Uint64("latency_ms", latency),
				zap.Bool("is_error", isError),
			)
		})
	}
}
