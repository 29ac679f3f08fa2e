package provider

import (
	"encoding/json"

	"github.com/wandlerhq/wandler/pkg/api"
)

// ProviderCapabilities declares what features the backend supports.
// Used by the engine for early request validation.
type ProviderCapabilities struct {
	// Streaming indicates whether the provider supports streaming responses.
	Streaming bool

	// ToolCalling indicates whether the provider supports function/tool calls.
	ToolCalling bool

	// Vision indicates whether the provider supports image inputs.
	Vision bool

	// Reasoning indicates whether the provider can surface reasoning content.
	Reasoning bool

	// MaxContextWindow is the maximum token count (0 = unknown/unlimited).
	MaxContextWindow int
}

// ProviderRequest is the backend-facing request. It contains only the
// information the provider needs, stripped of transport concerns. The model
// identifier is already resolved to a backend model.
type ProviderRequest struct {
	Model       string            `json:"model"`
	Messages    []ProviderMessage `json:"messages"`
	Tools       []ProviderTool    `json:"tools,omitempty"`
	ToolChoice  *api.ToolChoice   `json:"tool_choice,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	User        string            `json:"user,omitempty"`

	// ParallelToolCalls, when set, tells the backend whether it may emit
	// more than one tool call per turn.
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`
}

// ProviderMessage represents a message in the provider's conversation format.
// Content is either a plain string or a slice of multimodal content parts.
type ProviderMessage struct {
	Role       string             `json:"role"`
	Content    any                `json:"content"`
	ToolCalls  []ProviderToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
}

// ProviderToolCall represents a tool call entry in an assistant message.
type ProviderToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function ProviderFunctionCall `json:"function"`
}

// ProviderFunctionCall holds the function name and arguments for a tool call.
type ProviderFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderTool represents a tool definition in provider format.
type ProviderTool struct {
	Type     string              `json:"type"`
	Function ProviderFunctionDef `json:"function"`
}

// ProviderFunctionDef holds a function definition for tool use.
type ProviderFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ProviderResponse is the backend's complete non-streaming response,
// already lifted into client content blocks.
type ProviderResponse struct {
	Content    []api.ContentBlock `json:"content"`
	StopReason api.StopReason     `json:"stop_reason"`
	Usage      api.Usage          `json:"usage"`
	Model      string             `json:"model"`
}

// ProviderEventType classifies a streaming event from the backend.
type ProviderEventType int

const (
	ProviderEventTextDelta      ProviderEventType = iota // Incremental text content
	ProviderEventToolCallDelta                           // Incremental tool call arguments
	ProviderEventToolCallDone                            // Tool call complete
	ProviderEventReasoningDelta                          // Incremental reasoning content
	ProviderEventDone                                    // Stream finished
	ProviderEventError                                   // Stream error
)

// ProviderEvent is a single streaming event from the backend.
type ProviderEvent struct {
	// Type indicates what kind of event this is.
	Type ProviderEventType

	// Delta contains incremental text or argument data.
	Delta string

	// ToolCallIndex identifies which tool call this event relates to.
	ToolCallIndex int

	// ToolCallID is the identifier for the tool call.
	ToolCallID string

	// FunctionName is the function name (populated on first tool call event).
	FunctionName string

	// StopReason is populated on the final event.
	StopReason api.StopReason

	// Usage is populated on the final event when the backend reports it.
	Usage *api.Usage

	// Err is populated if the stream encountered an error.
	Err error
}

// ModelInfo holds information about a model served by the provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
