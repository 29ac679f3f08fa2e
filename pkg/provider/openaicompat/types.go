package openaicompat

import "encoding/json"

// ---------------------------------------------------------------------------
// Request types (what we send to the backend)
// ---------------------------------------------------------------------------

// ChatCompletionRequest is the wire format for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Tools         []ChatTool     `json:"tools,omitempty"`
	ToolChoice    any            `json:"tool_choice,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	User          string         `json:"user,omitempty"`

	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	// IncludeUsage asks the backend to send a final usage-only chunk
	// before [DONE].
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage is a single message in the conversation.
type ChatMessage struct {
	Role string `json:"role"`

	// Content is a string for plain text or a []map[string]any for
	// multimodal parts. It is nil for assistant messages that carry
	// only tool calls.
	Content any `json:"content"`

	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// ChatTool declares a function the model may call.
type ChatTool struct {
	Type     string       `json:"type"` // always "function"
	Function ChatFunction `json:"function"`
}

// ChatFunction describes a callable function.
type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatToolCall is a tool invocation requested by the model.
type ChatToolCall struct {
	// Index identifies the call slot in streaming deltas, where the
	// arguments arrive as fragments across many chunks.
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall carries the function name and its JSON arguments.
type ChatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ---------------------------------------------------------------------------
// Response types (what the backend sends back)
// ---------------------------------------------------------------------------

// ChatCompletionResponse is the non-streaming response format.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one completion alternative. We only ever read the first.
type ChatChoice struct {
	Index        int                 `json:"index"`
	Message      ChatResponseMessage `json:"message"`
	FinishReason *string             `json:"finish_reason"`
}

// ChatResponseMessage is the assistant message inside a choice.
type ChatResponseMessage struct {
	Role      string         `json:"role"`
	Content   any            `json:"content"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`

	// ReasoningContent carries chain-of-thought text on backends that
	// expose it (vLLM with reasoning parsers, DeepSeek-style models).
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatUsage reports token consumption.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ---------------------------------------------------------------------------
// Streaming chunk types
// ---------------------------------------------------------------------------

// ChatCompletionChunk is a single SSE data payload in a streaming response.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`

	// Usage appears only on the final chunk when stream_options
	// requested it; that chunk has an empty choices array.
	Usage *ChatUsage `json:"usage,omitempty"`
}

// ChatChunkChoice is one choice inside a streaming chunk.
type ChatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        ChatChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// ChatChunkDelta carries the incremental payload of a chunk.
type ChatChunkDelta struct {
	Role             string         `json:"role,omitempty"`
	Content          any            `json:"content,omitempty"`
	ToolCalls        []ChatToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

// ---------------------------------------------------------------------------
// Error and model listing types
// ---------------------------------------------------------------------------

// ChatErrorResponse is the backend's error envelope.
type ChatErrorResponse struct {
	Error ChatError `json:"error"`
}

// ChatError is the error detail inside ChatErrorResponse.
type ChatError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// ChatModelsResponse is the response format for GET /v1/models.
type ChatModelsResponse struct {
	Object string      `json:"object"`
	Data   []ChatModel `json:"data"`
}

// ChatModel is a single entry in the model listing.
type ChatModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
