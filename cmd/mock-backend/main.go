// Command mock-backend runs a deterministic Chat Completions server for
// exercising the gateway without a real backend. The answer is selected
// by trigger phrases in the last user message:
//
//	"count from one to five"  - fixed counting answer
//	"fail once mid-stream"    - the first streaming attempt for a given
//	                            prompt is severed mid-answer; later
//	                            attempts complete
//	"always fail mid-stream"  - every streaming attempt is severed
//	"stall mid-stream"        - one chunk, then silence
//	"reject with 429"         - HTTP 429 before any output
//	"reject with 500"         - HTTP 500 before any output
//
// Requests carrying tools get a deterministic get_weather call; requests
// carrying an image part get a fixed description. Attempt tracking for
// the fail-once scenario is keyed by the prompt text, so concurrent tests
// should use distinct prompts.
//
// POST /admin/degrade makes /v1/models and /v1/chat/completions answer
// 503 until POST /admin/restore, for health monitor testing.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	b := &backend{attempts: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", b.handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /admin/degrade", func(w http.ResponseWriter, r *http.Request) {
		b.degraded.Store(true)
		slog.Info("backend degraded")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /admin/restore", func(w http.ResponseWriter, r *http.Request) {
		b.degraded.Store(false)
		slog.Info("backend restored")
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// backend holds the mutable state behind the deterministic responses:
// the per-prompt attempt counter and the degraded toggle.
type backend struct {
	mu       sync.Mutex
	attempts map[string]int
	degraded atomic.Bool
}

// attempt returns how many times the given prompt has been seen,
// counting this call.
func (b *backend) attempt(prompt string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[prompt]++
	return b.attempts[prompt]
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []any         `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Index    int      `json:"index"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function funcCall `json:"function"`
}

type funcCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Handler ---

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if b.degraded.Load() {
		writeBackendError(w, http.StatusServiceUnavailable, "backend degraded")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBackendError(w, http.StatusBadRequest, "invalid request")
		return
	}

	prompt := lastUserText(&req)
	switch {
	case strings.Contains(prompt, "reject with 429"):
		writeBackendError(w, http.StatusTooManyRequests, "try again later")
		return
	case strings.Contains(prompt, "reject with 500"):
		writeBackendError(w, http.StatusInternalServerError, "internal backend error")
		return
	}

	if req.Stream {
		b.handleStreaming(w, r, &req, prompt)
		return
	}

	resp := classifyAndRespond(&req, prompt)
	resp.Model = modelOrDefault(req.Model)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func classifyAndRespond(req *chatRequest, prompt string) chatResponse {
	if len(req.Tools) > 0 {
		return toolCallResponse()
	}
	if hasImageContent(req) {
		return makeTextResponse("I can see the image you shared. It appears to be a small red icon or symbol.")
	}
	return makeTextResponse(answerFor(prompt))
}

// answerFor returns the deterministic answer text for a prompt. The same
// prompt always produces the same answer, which is what makes severed
// streams resumable by replay.
func answerFor(prompt string) string {
	switch {
	case strings.Contains(prompt, "count from one to five"):
		return "1, 2, 3, 4, 5"
	case strings.Contains(prompt, "fail once mid-stream"),
		strings.Contains(prompt, "always fail mid-stream"):
		return "The answer is forty-two."
	default:
		return "Hello, nice day!"
	}
}

func toolCallResponse() chatResponse {
	return chatResponse{
		ID:      "chatcmpl-mock-tool",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMsg{
					Role:    "assistant",
					Content: nil,
					ToolCalls: []toolCall{
						{
							ID:   "call_mock_1",
							Type: "function",
							Function: funcCall{
								Name:      "get_weather",
								Arguments: `{"location":"San Francisco","unit":"celsius"}`,
							},
						},
					},
				},
				FinishReason: "tool_calls",
			},
		},
		Usage: chatUsage{PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35},
	}
}

func makeTextResponse(text string) chatResponse {
	return chatResponse{
		ID:      "chatcmpl-mock-text",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMsg{Role: "assistant", Content: &text},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// --- Streaming ---

// chunksFor returns the token sequence for one streaming attempt and
// whether the attempt should be severed after the last token. A severed
// attempt ends without a finish chunk or [DONE]. Replayed attempts use
// different chunk boundaries than the severed one so resumption cannot
// rely on chunk alignment.
func (b *backend) chunksFor(req *chatRequest, prompt string) (tokens []string, sever bool) {
	switch {
	case strings.Contains(prompt, "always fail mid-stream"):
		return []string{"The answer", " is"}, true
	case strings.Contains(prompt, "fail once mid-stream"):
		if b.attempt(prompt) == 1 {
			return []string{"The answer", " is"}, true
		}
		return []string{"The an", "swer is forty", "-two."}, false
	case strings.Contains(prompt, "count from one to five"):
		return []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}, false
	default:
		return []string{"Hello", ", ", "nice", " ", "day", "!"}, false
	}
}

func (b *backend) handleStreaming(w http.ResponseWriter, r *http.Request, req *chatRequest, prompt string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBackendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	model := modelOrDefault(req.Model)

	if len(req.Tools) > 0 {
		streamToolCall(w, flusher, model)
		return
	}

	// Role chunk first, as real backends do.
	writeRoleChunk(w, model)
	flusher.Flush()

	if strings.Contains(prompt, "stall mid-stream") {
		writeContentChunk(w, model, "The answer")
		flusher.Flush()
		// Produce nothing further until the client gives up.
		<-r.Context().Done()
		return
	}

	tokens, sever := b.chunksFor(req, prompt)
	for _, token := range tokens {
		writeContentChunk(w, model, token)
		flusher.Flush()
	}

	if sever {
		// Drop the connection without a finish chunk or [DONE], as a
		// crashed backend would.
		panic(http.ErrAbortHandler)
	}

	writeFinishChunk(w, model, "stop")
	flusher.Flush()
	writeUsageChunk(w, model, len(tokens))
	flusher.Flush()

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// streamToolCall streams one get_weather invocation: the header carrying
// the call ID and name, then the arguments in two fragments.
func streamToolCall(w http.ResponseWriter, flusher http.Flusher, model string) {
	writeRoleChunk(w, model)
	flusher.Flush()

	header := toolCall{
		Index:    0,
		ID:       "call_mock_1",
		Type:     "function",
		Function: funcCall{Name: "get_weather"},
	}
	writeToolCallChunk(w, model, header)
	flusher.Flush()

	for _, fragment := range []string{`{"location":"San Fra`, `ncisco","unit":"celsius"}`} {
		writeToolCallChunk(w, model, toolCall{Index: 0, Function: funcCall{Arguments: fragment}})
		flusher.Flush()
	}

	writeFinishChunk(w, model, "tool_calls")
	flusher.Flush()
	writeUsageChunk(w, model, 15)
	flusher.Flush()

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeRoleChunk(w http.ResponseWriter, model string) {
	writeChunk(w, model, map[string]any{"role": "assistant"}, nil)
}

func writeContentChunk(w http.ResponseWriter, model, content string) {
	writeChunk(w, model, map[string]any{"content": content}, nil)
}

func writeToolCallChunk(w http.ResponseWriter, model string, call toolCall) {
	writeChunk(w, model, map[string]any{"tool_calls": []toolCall{call}}, nil)
}

func writeFinishChunk(w http.ResponseWriter, model, reason string) {
	writeChunk(w, model, map[string]any{}, &reason)
}

// writeUsageChunk emits the trailing usage-only chunk requested via
// stream_options.include_usage. It carries an empty choices array.
func writeUsageChunk(w http.ResponseWriter, model string, tokenCount int) {
	chunk := map[string]any{
		"id":      "chatcmpl-mock-stream",
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []any{},
		"usage": chatUsage{
			PromptTokens:     10,
			CompletionTokens: tokenCount,
			TotalTokens:      10 + tokenCount,
		},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeChunk(w http.ResponseWriter, model string, delta map[string]any, finishReason *string) {
	chunk := map[string]any{
		"id":     "chatcmpl-mock-stream",
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         delta,
				"finish_reason": finishReason,
			},
		},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// --- Models endpoint ---

func (b *backend) handleModels(w http.ResponseWriter, r *http.Request) {
	if b.degraded.Load() {
		writeBackendError(w, http.StatusServiceUnavailable, "backend degraded")
		return
	}
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "wandler-mock"},
			{"id": "mock-model-mini", "object": "model", "owned_by": "wandler-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func writeBackendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error"}}`, msg)
}

func modelOrDefault(model string) string {
	if model == "" {
		return "mock-model"
	}
	return model
}

// lastUserText extracts the text of the last user message, looking inside
// multimodal part arrays for the text parts.
func lastUserText(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		switch v := req.Messages[i].Content.(type) {
		case string:
			return v
		case []any:
			var sb strings.Builder
			for _, part := range v {
				if m, ok := part.(map[string]any); ok {
					if t, _ := m["type"].(string); t == "text" {
						if text, ok := m["text"].(string); ok {
							sb.WriteString(text)
						}
					}
				}
			}
			return sb.String()
		}
	}
	return ""
}

func hasImageContent(req *chatRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		parts, ok := msg.Content.([]any)
		if !ok {
			continue
		}
		for _, part := range parts {
			if m, ok := part.(map[string]any); ok {
				if t, _ := m["type"].(string); t == "image_url" {
					return true
				}
			}
		}
	}
	return false
}
