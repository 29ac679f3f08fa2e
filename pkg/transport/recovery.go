package transport

import (
	"context"
	"fmt"

	"github.com/wandlerhq/wandler/pkg/api"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to internal error responses. The server continues to
// accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next MessagesHandler) MessagesHandler {
		return MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					retErr = api.NewAPIError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.CreateMessage(ctx, req, w)
		})
	}
}
