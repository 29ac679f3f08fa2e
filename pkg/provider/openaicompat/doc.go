// Package openaicompat implements the provider.Provider interface for
// backends that speak the OpenAI Chat Completions protocol (vLLM, Ollama,
// llama.cpp, LocalAI, and OpenAI itself).
//
// The package owns both directions of the wire translation:
//
//   - TranslateToChat converts a neutral provider.ProviderRequest into a
//     ChatCompletionRequest ready for POST /v1/chat/completions.
//   - TranslateResponse and ParseSSEStream convert non-streaming responses
//     and SSE chunk streams back into neutral content blocks and events.
//
// Streaming requests are issued without an overall HTTP client timeout.
// A slow but alive stream must not be killed by a fixed deadline; only
// connection establishment is bounded (via ResponseHeaderTimeout) and the
// caller's context controls the lifetime of the body read.
package openaicompat
