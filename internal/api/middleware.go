package api

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/smazurov/omnicapture/internal/logging"
)

// requestIDHeader carries a caller supplied or generated request id. It is
// echoed on the response and attached to the request log line.
const requestIDHeader = "X-Request-ID"

// HTTPLoggingMiddleware logs each request once it completes.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()

	id := ctx.Header(requestIDHeader)
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	ctx.SetHeader(requestIDHeader, id)

	next(ctx)

	attrs := []slog.Attr{
		slog.String("request_id", id),
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.Int("status", ctx.Status()),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if op := ctx.Operation(); op != nil {
		attrs = append(attrs, slog.String("operation", op.OperationID))
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}

	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLogLevel(ctx.Method(), ctx.URL().Path, ctx.Status()), "HTTP request completed", attrs...)
}

// requestLogLevel keeps preflights and dashboard polling out of info logs.
func requestLogLevel(method, path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == "OPTIONS", isPollingPath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// isPollingPath reports paths that dashboards poll several times a second.
func isPollingPath(path string) bool {
	return path == "/api/capture" || path == "/api/health"
}
