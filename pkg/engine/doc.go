// Package engine implements the core translation pipeline for wandler.
// The Engine struct implements transport.MessagesHandler, bridging incoming
// Messages API requests to an OpenAI-compatible provider backend. It handles
// model resolution, request translation, parameter clamping, provider
// invocation, streaming event framing with mid-stream retry, and exchange
// ledger recording. Optional capabilities (storage) use nil-safe composition
// for graceful degradation.
package engine
