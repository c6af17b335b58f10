package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"weconnect/pkg/logging"
)

// RequestLogger logs each request on completion and injects a request scoped
// logger, tagged with the trace id when a span is active.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				attrs = append(attrs, logging.TraceID(sc.TraceID().String()))
			}
			ctx := logging.With(logging.WithContext(r.Context(), log), attrs...)
			reqLog := logging.FromContext(ctx)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelDebug
			if rec.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLog.Log(ctx, level, "ops - request - done",
				slog.Int("status", rec.statusCode),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
