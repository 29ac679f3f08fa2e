package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// request: request ID, client model, stream flag, duration, and the
// error when the handler failed.
//
// The HTTP method and status code are not visible at this level; the
// adapter's HTTP middleware covers those.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next MessagesHandler) MessagesHandler {
		return MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			err := next.CreateMessage(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("model", req.Model),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}

			return err
		})
	}
}
