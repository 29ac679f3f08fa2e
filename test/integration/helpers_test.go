// Package integration provides end-to-end tests for the wandler gateway.
//
// Tests run against a real wandler HTTP handler backed by a mock Chat
// Completions backend, both started in-process using net/http/httptest.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/engine"
	"github.com/wandlerhq/wandler/pkg/modelmap"
	"github.com/wandlerhq/wandler/pkg/provider/openaicompat"
	"github.com/wandlerhq/wandler/pkg/storage/memory"
	transporthttp "github.com/wandlerhq/wandler/pkg/transport/http"
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the wandler server and the mock backend.
type TestEnvironment struct {
	Wandler *httptest.Server
	Backend *mockBackend
}

// TestMain starts the mock backend and a wandler server wired to it: big
// class maps to "mock-model", small class to "mock-model-mini", and the
// alias "legacy-large" to "mock-model". The shared server runs with a
// stream retry budget of 2; tests that need other engine settings start
// their own server via newProxyServer.
func TestMain(m *testing.M) {
	backend := newMockBackend()
	wandler, err := newProxy(proxyConfig{BackendURL: backend.URL(), RetryBudget: 2})
	if err != nil {
		panic(fmt.Sprintf("setting up test environment: %v", err))
	}
	testEnv = &TestEnvironment{Wandler: wandler, Backend: backend}

	code := m.Run()

	wandler.Close()
	backend.Close()
	os.Exit(code)
}

// BaseURL returns the wandler server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Wandler.URL
}

// proxyConfig selects the engine knobs a test server runs with.
type proxyConfig struct {
	BackendURL        string
	RetryBudget       int
	IdleTimeout       time.Duration
	StreamingDisabled bool
}

// newProxy assembles provider, mapper, engine, and HTTP adapter the way
// the server binary does, behind an httptest server.
func newProxy(cfg proxyConfig) (*httptest.Server, error) {
	prov, err := openaicompat.New(openaicompat.Config{BaseURL: cfg.BackendURL})
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	mapper, err := modelmap.New(modelmap.Config{
		BigModel:   "mock-model",
		SmallModel: "mock-model-mini",
		Aliases:    map[string]string{"legacy-large": "mock-model"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating mapper: %w", err)
	}

	store := memory.New(100)

	eng, err := engine.New(prov, mapper, store, engine.Config{
		StreamRetryBudget: cfg.RetryBudget,
		StreamIdleTimeout: cfg.IdleTimeout,
		StreamingDisabled: cfg.StreamingDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.Version = "test"
	adapterCfg.BigModel = "mock-model"
	adapterCfg.SmallModel = "mock-model-mini"

	adapter := transporthttp.NewAdapter(eng, store, adapterCfg)
	return httptest.NewServer(adapter.Handler()), nil
}

// newProxyServer starts a wandler server with its own engine settings,
// torn down with the test. Used for retry-budget and streaming-disable
// cases the shared environment cannot cover.
func newProxyServer(t *testing.T, cfg proxyConfig) *httptest.Server {
	t.Helper()
	srv, err := newProxy(cfg)
	if err != nil {
		t.Fatalf("setting up proxy: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

// --- HTTP helpers ---

// messagesBody builds a minimal Messages API request body.
func messagesBody(model, prompt string, stream bool) map[string]any {
	return map[string]any{
		"model":      model,
		"max_tokens": 256,
		"stream":     stream,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
}

// postJSON sends a POST request with a JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// --- SSE helpers ---

// parseSSE reads a Messages API event stream until the body ends and
// returns the events in arrival order. The client protocol has no [DONE]
// sentinel; the server closes the body after message_stop.
func parseSSE(t *testing.T, resp *http.Response) []api.StreamEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []api.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev api.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("parsing SSE event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading SSE stream: %v", err)
	}
	return events
}

// textOf concatenates the text deltas of a parsed stream.
func textOf(events []api.StreamEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == api.EventContentBlockDelta && ev.Delta != nil && ev.Delta.Type == api.DeltaTypeText {
			sb.WriteString(ev.Delta.Text)
		}
	}
	return sb.String()
}

// countType counts the events of one type.
func countType(events []api.StreamEvent, typ api.StreamEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// indexOfType returns the position of the first event of the given type,
// or -1.
func indexOfType(events []api.StreamEvent, typ api.StreamEventType) int {
	for i, ev := range events {
		if ev.Type == typ {
			return i
		}
	}
	return -1
}

// eventOfType returns the first event of the given type, failing the test
// when the stream has none.
func eventOfType(t *testing.T, events []api.StreamEvent, typ api.StreamEventType) api.StreamEvent {
	t.Helper()
	i := indexOfType(events, typ)
	if i < 0 {
		t.Fatalf("no %s event in stream", typ)
	}
	return events[i]
}

// --- Mock backend ---

// mockBackend mimics an OpenAI-style Chat Completions backend with
// deterministic trigger-phrase behavior:
//
//	"count from one to five"  -> "1, 2, 3, 4, 5"
//	"fail once mid-stream"    -> first connection drops mid-answer,
//	                             replays complete with different chunking
//	"always fail mid-stream"  -> every connection drops mid-answer
//	"stall mid-stream"        -> one chunk, then silence
//	"reject with 429" / "500" -> HTTP error before any content
//
// Connection counts are tracked per prompt text so reconnects of the
// same request can be told apart; tests exercising retries must use
// prompts unique to the test.
type mockBackend struct {
	srv      *httptest.Server
	mu       sync.Mutex
	attempts map[string]int
	degraded atomic.Bool
}

func newMockBackend() *mockBackend {
	b := &mockBackend{attempts: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", b.handleModels)

	b.srv = httptest.NewServer(mux)
	return b
}

func (b *mockBackend) URL() string { return b.srv.URL }
func (b *mockBackend) Close()      { b.srv.Close() }

// attempt increments and returns the connection count for a prompt.
func (b *mockBackend) attempt(prompt string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[prompt]++
	return b.attempts[prompt]
}

// attemptCount reports how many completion calls a prompt has made.
func (b *mockBackend) attemptCount(prompt string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[prompt]
}

// setDegraded switches the backend into a mode where every endpoint
// answers 503, as a crashed or overloaded inference server would.
func (b *mockBackend) setDegraded(v bool) { b.degraded.Store(v) }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []any         `json:"tools"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func (b *mockBackend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if b.degraded.Load() {
		writeBackendError(w, http.StatusServiceUnavailable, "backend degraded")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBackendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt := lastUserText(req.Messages)
	attempt := b.attempt(prompt)

	switch {
	case strings.Contains(prompt, "reject with 429"):
		writeBackendError(w, http.StatusTooManyRequests, "rate limited")
		return
	case strings.Contains(prompt, "reject with 500"):
		writeBackendError(w, http.StatusInternalServerError, "internal failure")
		return
	}

	if req.Stream {
		b.handleStreaming(w, r, req, prompt, attempt)
		return
	}

	if len(req.Tools) > 0 {
		writeToolCallResponse(w, req.Model)
		return
	}

	text := answerFor(prompt)
	if hasImageContent(req.Messages) {
		text = "The image shows a mountain lake at sunrise."
	}

	writeJSON(w, map[string]any{
		"id":     "chatcmpl-mock",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15,
		},
	})
}

func (b *mockBackend) handleStreaming(w http.ResponseWriter, r *http.Request, req chatRequest, prompt string, attempt int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBackendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	if len(req.Tools) > 0 {
		streamToolCall(w, flusher, req.Model)
		return
	}

	writeChunk(w, req.Model, map[string]any{"role": "assistant"}, nil)
	flusher.Flush()

	if strings.Contains(prompt, "stall mid-stream") {
		writeChunk(w, req.Model, map[string]any{"content": "Thinking"}, nil)
		flusher.Flush()
		<-r.Context().Done()
		return
	}

	tokens, sever := chunksFor(prompt, attempt)
	for _, tok := range tokens {
		writeChunk(w, req.Model, map[string]any{"content": tok}, nil)
		flusher.Flush()
	}

	if sever {
		// Drop the connection without a finish chunk or [DONE], as a
		// crashed backend would.
		panic(http.ErrAbortHandler)
	}

	finish := "stop"
	writeChunk(w, req.Model, map[string]any{}, &finish)
	writeUsageChunk(w, req.Model, len(tokens))
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (b *mockBackend) handleModels(w http.ResponseWriter, r *http.Request) {
	if b.degraded.Load() {
		writeBackendError(w, http.StatusServiceUnavailable, "backend degraded")
		return
	}
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "wandler-mock"},
			{"id": "mock-model-mini", "object": "model", "owned_by": "wandler-mock"},
		},
	})
}

// answerFor returns the canonical answer text for a prompt.
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

// chunksFor returns the streaming token split for a prompt and whether
// the connection is severed before the terminal chunk. The replay after
// a severed attempt uses different chunk boundaries, so a resuming
// reader has to split a delta to discard exactly the bytes the client
// already holds.
func chunksFor(prompt string, attempt int) (tokens []string, sever bool) {
	switch {
	case strings.Contains(prompt, "always fail mid-stream"):
		return []string{"The answer", " is"}, true
	case strings.Contains(prompt, "fail once mid-stream"):
		if attempt == 1 {
			return []string{"The answer", " is"}, true
		}
		return []string{"The an", "swer is forty", "-two."}, false
	case strings.Contains(prompt, "count from one to five"):
		return []string{"1", ", 2", ", 3", ", 4", ", 5"}, false
	default:
		return []string{"Hello", ",", " nice", " day", "!"}, false
	}
}

// writeChunk writes one chat.completion.chunk data line.
func writeChunk(w io.Writer, model string, delta map[string]any, finish *string) {
	data, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-mock",
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": finish},
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeUsageChunk writes the trailing usage-only chunk produced for
// stream_options.include_usage. Its choices array is empty.
func writeUsageChunk(w io.Writer, model string, completionTokens int) {
	data, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": completionTokens,
			"total_tokens":      10 + completionTokens,
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// streamToolCall streams a get_weather call with the arguments split
// across two fragments.
func streamToolCall(w http.ResponseWriter, flusher http.Flusher, model string) {
	writeChunk(w, model, map[string]any{"role": "assistant"}, nil)
	flusher.Flush()

	writeChunk(w, model, map[string]any{
		"tool_calls": []map[string]any{{
			"index": 0, "id": "call_mock_1", "type": "function",
			"function": map[string]any{"name": "get_weather", "arguments": ""},
		}},
	}, nil)
	flusher.Flush()

	for _, frag := range []string{`{"location":"San Fra`, `ncisco","unit":"celsius"}`} {
		writeChunk(w, model, map[string]any{
			"tool_calls": []map[string]any{{
				"index":    0,
				"function": map[string]any{"arguments": frag},
			}},
		}, nil)
		flusher.Flush()
	}

	finish := "tool_calls"
	writeChunk(w, model, map[string]any{}, &finish)
	writeUsageChunk(w, model, 12)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeToolCallResponse answers a non-streaming request that offered
// tools with a complete get_weather call.
func writeToolCallResponse(w http.ResponseWriter, model string) {
	writeJSON(w, map[string]any{
		"id":     "chatcmpl-mock-tool",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{
						{
							"id":   "call_mock_1",
							"type": "function",
							"function": map[string]any{
								"name":      "get_weather",
								"arguments": `{"location":"San Francisco","unit":"celsius"}`,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 20, "completion_tokens": 15, "total_tokens": 35,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeBackendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "server_error"},
	})
}

// lastUserText extracts the text of the last user message, joining the
// text parts of multimodal content.
func lastUserText(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		switch c := messages[i].Content.(type) {
		case string:
			return c
		case []any:
			var sb strings.Builder
			for _, part := range c {
				m, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if m["type"] == "text" {
					if s, ok := m["text"].(string); ok {
						sb.WriteString(s)
					}
				}
			}
			return sb.String()
		}
	}
	return ""
}

// hasImageContent reports whether any message carries an image part.
func hasImageContent(messages []chatMessage) bool {
	for _, msg := range messages {
		parts, ok := msg.Content.([]any)
		if !ok {
			continue
		}
		for _, part := range parts {
			if m, ok := part.(map[string]any); ok && m["type"] == "image_url" {
				return true
			}
		}
	}
	return false
}
