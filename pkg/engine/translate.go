package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/provider"
)

// emptyObjectSchema stands in for tools declared without an input schema;
// Chat Completions backends reject function definitions with no parameters.
var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// translateRequest converts a Messages API request into a provider-level
// ProviderRequest carrying the already-resolved backend model. Parameters
// without a Chat Completions equivalent are dropped with a warning and a
// clamp counter increment, never silently.
func (e *Engine) translateRequest(req *api.MessagesRequest, backendModel string) (*provider.ProviderRequest, error) {
	pr := &provider.ProviderRequest{
		Model:       backendModel,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream && !e.cfg.StreamingDisabled,
	}

	maxTokens := req.MaxTokens
	if limit := e.cfg.maxTokensLimit(); maxTokens > limit {
		slog.Warn("clamping max_tokens to configured limit",
			"requested", maxTokens,
			"limit", limit)
		observability.ParameterClampsTotal.WithLabelValues("max_tokens").Inc()
		maxTokens = limit
	}
	pr.MaxTokens = &maxTokens

	if req.TopK != nil {
		slog.Warn("dropping top_k, the backend protocol has no equivalent",
			"top_k", *req.TopK)
		observability.ParameterClampsTotal.WithLabelValues("top_k").Inc()
	}

	if uid, ok := req.Metadata["user_id"].(string); ok && uid != "" {
		pr.User = uid
	}

	// System instructions become the first message.
	if system := flattenSystem(req.System); system != "" {
		pr.Messages = append(pr.Messages, provider.ProviderMessage{
			Role:    "system",
			Content: system,
		})
	}

	for i := range req.Messages {
		msgs, err := translateMessage(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		pr.Messages = append(pr.Messages, msgs...)
	}

	if len(pr.Messages) == 0 {
		return nil, api.NewTranslationError("request contains no translatable messages")
	}

	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		pr.Tools = append(pr.Tools, provider.ProviderTool{
			Type: "function",
			Function: provider.ProviderFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}

	if req.ToolChoice != nil {
		pr.ToolChoice = req.ToolChoice
		if req.ToolChoice.DisableParallelToolUse != nil {
			allowParallel := !*req.ToolChoice.DisableParallelToolUse
			pr.ParallelToolCalls = &allowParallel
		}
	}

	return pr, nil
}

// flattenSystem joins the system prompt into a single string. The wire
// format allows a plain string or text blocks; blocks are joined by blank
// lines, non-text blocks are ignored.
func flattenSystem(system *api.MessageContent) string {
	if system == nil {
		return ""
	}
	if system.Plain {
		return system.Text
	}
	var parts []string
	for _, block := range system.Blocks {
		if block.Type == api.ContentBlockTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// translateMessage converts one conversation turn into zero or more
// provider messages. Tool results split out of a user turn into tool-role
// messages; tool calls on an assistant turn become tool_calls entries.
func translateMessage(msg *api.Message) ([]provider.ProviderMessage, error) {
	switch msg.Role {
	case api.RoleUser:
		return translateUserMessage(msg)
	case api.RoleAssistant:
		return translateAssistantMessage(msg)
	default:
		return nil, api.NewTranslationError(fmt.Sprintf("unknown message role %q", msg.Role))
	}
}

// translateUserMessage splits a user turn into tool-role result messages
// followed by one user message carrying the remaining content. Per Chat
// Completions convention the tool results must directly follow the
// assistant turn that requested them.
func translateUserMessage(msg *api.Message) ([]provider.ProviderMessage, error) {
	var out []provider.ProviderMessage
	var rest []api.ContentBlock

	for _, block := range msg.Content.Normalized() {
		if block.Type == api.ContentBlockTypeToolResult {
			out = append(out, provider.ProviderMessage{
				Role:       "tool",
				Content:    flattenToolResult(block.Content),
				ToolCallID: block.ToolUseID,
			})
			continue
		}
		rest = append(rest, block)
	}

	if len(rest) > 0 {
		content, err := extractUserContent(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.ProviderMessage{Role: "user", Content: content})
	}
	return out, nil
}

// extractUserContent builds backend content from user blocks. Text-only
// input collapses to a plain string; input with images becomes a content
// array in the Chat Completions part format.
func extractUserContent(blocks []api.ContentBlock) (any, error) {
	hasImage := false
	for _, b := range blocks {
		if b.Type == api.ContentBlockTypeImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		var result string
		for _, b := range blocks {
			if b.Type == api.ContentBlockTypeText {
				result += b.Text
			}
		}
		return result, nil
	}

	var parts []map[string]any
	for _, b := range blocks {
		switch b.Type {
		case api.ContentBlockTypeText:
			parts = append(parts, map[string]any{
				"type": "text",
				"text": b.Text,
			})
		case api.ContentBlockTypeImage:
			url, err := imageURL(b.Source)
			if err != nil {
				return nil, err
			}
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": url,
				},
			})
		}
	}
	return parts, nil
}

// imageURL renders an image source as a URL the backend accepts,
// constructing a data URI for inline base64 payloads.
func imageURL(src *api.ImageSource) (string, error) {
	if src == nil {
		return "", api.NewTranslationError("image block has no source")
	}
	switch src.Type {
	case "url":
		if src.URL == "" {
			return "", api.NewTranslationError("image source of type url has no url")
		}
		return src.URL, nil
	case "base64":
		if src.Data == "" {
			return "", api.NewTranslationError("image source of type base64 has no data")
		}
		mediaType := src.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return fmt.Sprintf("data:%s;base64,%s", mediaType, src.Data), nil
	default:
		return "", api.NewTranslationError(fmt.Sprintf("unknown image source type %q", src.Type))
	}
}

// translateAssistantMessage converts an assistant turn. Text blocks
// concatenate into the content string, tool_use blocks become tool_calls,
// and thinking blocks are not sent back to the backend.
func translateAssistantMessage(msg *api.Message) ([]provider.ProviderMessage, error) {
	var text string
	var calls []provider.ProviderToolCall

	for _, block := range msg.Content.Normalized() {
		switch block.Type {
		case api.ContentBlockTypeText:
			text += block.Text
		case api.ContentBlockTypeToolUse:
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, provider.ProviderToolCall{
				ID:   block.ID,
				Type: "function",
				Function: provider.ProviderFunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case api.ContentBlockTypeThinking:
			// Reasoning content is not replayed to the backend.
		default:
			return nil, api.NewTranslationError(
				fmt.Sprintf("assistant turn cannot carry a %s block", block.Type))
		}
	}

	pm := provider.ProviderMessage{Role: "assistant", ToolCalls: calls}
	if text != "" || len(calls) == 0 {
		pm.Content = text
	}
	return []provider.ProviderMessage{pm}, nil
}

// flattenToolResult renders tool result content as the plain string the
// tool role carries. Block content keeps text blocks, joined by newlines;
// anything else is serialized as JSON so no information is dropped.
func flattenToolResult(content *api.MessageContent) string {
	if content == nil {
		return ""
	}
	if content.Plain {
		return content.Text
	}
	var parts []string
	for _, block := range content.Blocks {
		if block.Type == api.ContentBlockTypeText {
			parts = append(parts, block.Text)
			continue
		}
		if raw, err := json.Marshal(block); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
