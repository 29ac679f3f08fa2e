package transport

import (
	"context"

	"github.com/wandlerhq/wandler/pkg/api"
)

// MessagesHandler handles the core create-message operation. The
// implementation receives a request envelope and writes the result
// (streaming events or one complete message) to the ResponseWriter.
type MessagesHandler interface {
	CreateMessage(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error
}

// MessagesHandlerFunc is an adapter that allows using an ordinary
// function as a MessagesHandler.
type MessagesHandlerFunc func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error

// CreateMessage calls f(ctx, req, w).
func (f MessagesHandlerFunc) CreateMessage(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
	return f(ctx, req, w)
}

// TokenCounter serves the deterministic token estimate operation.
type TokenCounter interface {
	CountTokens(ctx context.Context, req *api.CountTokensRequest) (*api.CountTokensResponse, error)
}

// ConnectionTester performs a minimal backend round-trip for the
// diagnostics endpoint. It returns the model identifiers the backend
// reports, or an error when the backend is unreachable.
type ConnectionTester interface {
	TestConnection(ctx context.Context) ([]string, error)
}

// ResponseWriter abstracts streaming and non-streaming output for the
// handler. The transport layer creates one per request.
//
// WriteEvent and WriteMessage are mutually exclusive on a single writer.
// Calling WriteEvent after WriteMessage (or vice versa) returns an
// error, as does calling WriteEvent after the terminal message_stop
// event has been sent.
type ResponseWriter interface {
	// WriteEvent sends a single streaming event.
	WriteEvent(ctx context.Context, event api.StreamEvent) error

	// WriteMessage sends one complete non-streaming response envelope.
	WriteMessage(ctx context.Context, msg *api.MessagesResponse) error

	// Flush pushes buffered data to the client. Returns an error if the
	// client has disconnected.
	Flush() error
}
