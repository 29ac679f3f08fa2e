package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/provider"
)

// TranslateResponse converts a non-streaming Chat Completions response into
// a neutral provider response. Only the first choice is considered.
func TranslateResponse(resp *ChatCompletionResponse) (*provider.ProviderResponse, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil chat completion response")
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion response has no choices")
	}

	choice := resp.Choices[0]
	out := &provider.ProviderResponse{
		Model: resp.Model,
	}

	// Reasoning precedes the visible answer, so the thinking block
	// comes first in the translated content.
	if choice.Message.ReasoningContent != "" {
		out.Content = append(out.Content, api.ContentBlock{
			Type:     api.ContentBlockTypeThinking,
			Thinking: choice.Message.ReasoningContent,
		})
	}

	if text := ExtractContentString(choice.Message.Content); text != "" {
		out.Content = append(out.Content, api.NewTextBlock(text))
	}

	for _, call := range choice.Message.ToolCalls {
		block, err := translateToolCallBlock(call)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, block)
	}

	out.StopReason = MapFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0)

	if resp.Usage != nil {
		out.Usage = api.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

func translateToolCallBlock(call ChatToolCall) (api.ContentBlock, error) {
	input := json.RawMessage(call.Function.Arguments)
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		return api.ContentBlock{}, fmt.Errorf("tool call %q has invalid JSON arguments", call.Function.Name)
	}
	id := call.ID
	if id == "" {
		id = api.NewToolUseID()
	}
	return api.NewToolUseBlock(id, call.Function.Name, input), nil
}

// MapFinishReason converts a Chat Completions finish_reason into a stop
// reason. Backends that stop for a tool call but report "stop" (or nothing
// at all) still map to tool_use when tool calls are present.
func MapFinishReason(reason *string, hasToolCalls bool) api.StopReason {
	if reason == nil {
		if hasToolCalls {
			return api.StopReasonToolUse
		}
		return api.StopReasonEndTurn
	}
	switch *reason {
	case "length":
		return api.StopReasonMaxTokens
	case "tool_calls", "function_call":
		return api.StopReasonToolUse
	case "content_filter":
		return api.StopReasonStopSequence
	case "stop":
		if hasToolCalls {
			return api.StopReasonToolUse
		}
		return api.StopReasonEndTurn
	default:
		return api.StopReasonEndTurn
	}
}

// ExtractContentString pulls plain text out of a message content field,
// which may be a string, nil, or a multimodal part array.
func ExtractContentString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var text string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					text += s
				}
			}
		}
		return text
	default:
		return ""
	}
}
