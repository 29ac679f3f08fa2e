package transport

import (
	"context"

	"github.com/wandlerhq/wandler/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// request. If the incoming context already carries one (set by the HTTP
// adapter from the X-Request-ID header), that value is kept.
//
// The request ID is stored in the context and can be retrieved with
// RequestIDFromContext.
func RequestID() Middleware {
	return func(next MessagesHandler) MessagesHandler {
		return MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, api.NewRequestID())
			}
			return next.CreateMessage(ctx, req, w)
		})
	}
}
