package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages      int
	MaxTools         int
	MaxStopSequences int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:      1000,
		MaxTools:         128,
		MaxStopSequences: 16,
	}
}

// ValidateRequest checks a MessagesRequest for validity. It returns an
// *Error describing the first validation failure, or nil if the request is
// valid.
func ValidateRequest(req *MessagesRequest, cfg ValidationConfig) *Error {
	if req.Model == "" {
		return NewInvalidRequestError("model is required")
	}

	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError(
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	if cfg.MaxTools > 0 && len(req.Tools) > cfg.MaxTools {
		return NewInvalidRequestError(
			fmt.Sprintf("tools exceeds maximum of %d", cfg.MaxTools))
	}

	if cfg.MaxStopSequences > 0 && len(req.StopSequences) > cfg.MaxStopSequences {
		return NewInvalidRequestError(
			fmt.Sprintf("stop_sequences exceeds maximum of %d", cfg.MaxStopSequences))
	}

	if req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens must be positive")
	}

	if req.Temperature != nil {
		if *req.Temperature < 0.0 || *req.Temperature > 1.0 {
			return NewInvalidRequestError("temperature must be between 0.0 and 1.0")
		}
	}

	if req.TopP != nil {
		if *req.TopP < 0.0 || *req.TopP > 1.0 {
			return NewInvalidRequestError("top_p must be between 0.0 and 1.0")
		}
	}

	if req.TopK != nil && *req.TopK < 0 {
		return NewInvalidRequestError("top_k must not be negative")
	}

	for i := range req.Messages {
		if err := validateMessage(i, &req.Messages[i]); err != nil {
			return err
		}
	}

	if err := validateToolChoice(req); err != nil {
		return err
	}

	if req.Thinking != nil {
		if req.Thinking.Type != "enabled" && req.Thinking.Type != "disabled" {
			return NewInvalidRequestError("thinking.type must be 'enabled' or 'disabled'")
		}
	}

	return nil
}

func validateMessage(index int, msg *Message) *Error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return NewInvalidRequestError(
			fmt.Sprintf("messages[%d].role must be 'user' or 'assistant'", index))
	}

	if msg.Content.IsEmpty() {
		return NewInvalidRequestError(
			fmt.Sprintf("messages[%d].content must not be empty", index))
	}

	for j, block := range msg.Content.Normalized() {
		if err := validateContentBlock(index, j, block); err != nil {
			return err
		}
	}
	return nil
}

func validateContentBlock(msgIndex, blockIndex int, block ContentBlock) *Error {
	switch block.Type {
	case ContentBlockTypeText, ContentBlockTypeThinking:
		return nil
	case ContentBlockTypeImage:
		if block.Source == nil {
			return NewInvalidRequestError(fmt.Sprintf(
				"messages[%d].content[%d]: image block requires a source", msgIndex, blockIndex))
		}
		return nil
	case ContentBlockTypeToolUse:
		if block.ID == "" || block.Name == "" {
			return NewInvalidRequestError(fmt.Sprintf(
				"messages[%d].content[%d]: tool_use block requires id and name", msgIndex, blockIndex))
		}
		return nil
	case ContentBlockTypeToolResult:
		if block.ToolUseID == "" {
			return NewInvalidRequestError(fmt.Sprintf(
				"messages[%d].content[%d]: tool_result block requires tool_use_id", msgIndex, blockIndex))
		}
		return nil
	default:
		return NewInvalidRequestError(fmt.Sprintf(
			"messages[%d].content[%d]: unknown content block type %q", msgIndex, blockIndex, block.Type))
	}
}

// validateToolChoice checks the tool selection strategy and, when a specific
// tool is forced, that it references a defined tool.
func validateToolChoice(req *MessagesRequest) *Error {
	tc := req.ToolChoice
	if tc == nil {
		return nil
	}

	switch tc.Type {
	case ToolChoiceAuto, ToolChoiceAny, ToolChoiceNone:
		return nil
	case ToolChoiceTool:
		for _, tool := range req.Tools {
			if tool.Name == tc.Name {
				return nil
			}
		}
		return NewInvalidRequestError(
			fmt.Sprintf("tool_choice references unknown tool %q", tc.Name))
	default:
		return NewInvalidRequestError(
			fmt.Sprintf("tool_choice.type must be one of 'auto', 'any', 'none', 'tool', got %q", tc.Type))
	}
}
