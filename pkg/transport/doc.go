// Package transport defines the handler interfaces and middleware chain
// between the HTTP layer and the translation engine.
//
// The transport layer deserializes inbound client requests into the
// envelope types defined in pkg/api, dispatches them for processing, and
// serializes results back to the client as one JSON body or as an SSE
// event stream.
//
// # Handler Interfaces
//
// MessagesHandler is the core contract: it receives a validated request
// envelope and writes the outcome through a ResponseWriter. TokenCounter
// serves the deterministic token estimate endpoint. The ResponseWriter
// abstraction lets the engine emit streaming events or a complete
// message without knowing the underlying protocol.
//
// # Middleware
//
// Middleware wraps MessagesHandler with cross-cutting concerns: panic
// recovery, request ID assignment (X-Request-ID), and structured logging
// via log/slog. HTTP-level concerns (status codes, Prometheus metrics)
// live in the adapter and in pkg/observability.
package transport
