package openaicompat

import (
	"fmt"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/provider"
)

// TranslateToChat converts a neutral provider request into the Chat
// Completions wire format. Streaming requests always ask for the final
// usage chunk so token accounting survives the translation.
func TranslateToChat(req *provider.ProviderRequest) (*ChatCompletionRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("nil provider request")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	out := &ChatCompletionRequest{
		Model:             req.Model,
		Messages:          make([]ChatMessage, 0, len(req.Messages)),
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		MaxTokens:         req.MaxTokens,
		Stop:              req.Stop,
		Stream:            req.Stream,
		User:              req.User,
		ParallelToolCalls: req.ParallelToolCalls,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, ChatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  translateToolCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		})
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}

	if req.ToolChoice != nil {
		tc, err := translateToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = tc
	}

	return out, nil
}

func translateToolCalls(calls []provider.ProviderToolCall) []ChatToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ChatToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, ChatToolCall{
			ID:   call.ID,
			Type: "function",
			Function: ChatFunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return out
}

// translateToolChoice maps the client's tool selection modes onto the Chat
// Completions equivalents. "any" means the model must call some tool, which
// Chat Completions spells "required".
func translateToolChoice(tc *api.ToolChoice) (any, error) {
	switch tc.Type {
	case api.ToolChoiceAuto:
		return "auto", nil
	case api.ToolChoiceAny:
		return "required", nil
	case api.ToolChoiceNone:
		return "none", nil
	case api.ToolChoiceTool:
		if tc.Name == "" {
			return nil, fmt.Errorf("tool_choice type %q requires a tool name", tc.Type)
		}
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported tool_choice type %q", tc.Type)
	}
}
