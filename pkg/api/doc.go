// Package api defines the client-facing protocol types for the wandler proxy.
//
// This package provides the data types of the Messages wire protocol spoken
// by clients: role-tagged messages with polymorphic content blocks,
// request/response envelopes, streaming events, error envelopes, and ID
// generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. All types produce JSON compatible with the Messages API
// wire format, enabling existing client libraries to talk to the proxy
// unchanged.
//
// Core types:
//   - [Message]: one role-tagged conversation turn
//   - [ContentBlock]: polymorphic content unit (text, image, tool_use, tool_result)
//   - [MessagesRequest]: client request for model inference
//   - [MessagesResponse]: the assistant message returned to the client
//   - [StreamEvent]: server-sent event for streaming responses
//   - [Error]: structured error with type, code, and message
//
// Streaming framing:
//
// A streamed response is the ordered event sequence message_start,
// content_block_start, ping, zero or more content_block_delta events,
// content_block_stop, message_delta, message_stop. The terminal events are
// emitted exactly once even when the upstream source fails mid-stream; in
// that case an error event precedes them.
package api
