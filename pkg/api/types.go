package api

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Content blocks
// ---------------------------------------------------------------------------

// ContentBlockType identifies the kind of a content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeImage      ContentBlockType = "image"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
)

// ContentBlock is the polymorphic content unit of the Messages protocol.
// Exactly the fields matching Type are populated; all others stay zero.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text content (type: text).
	Text string `json:"text,omitempty"`

	// Image content (type: image).
	Source *ImageSource `json:"source,omitempty"`

	// Tool invocation requested by the model (type: tool_use).
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result supplied by the client (type: tool_result).
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// Extended reasoning content (type: thinking).
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// MarshalJSON serializes a ContentBlock to the flat wire format, keeping
// exactly the fields that belong to its type. Text blocks always carry a
// text field, even when empty, because streaming clients expect
// {"type":"text","text":""} in content_block_start frames.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case ContentBlockTypeText:
		return json.Marshal(struct {
			Type ContentBlockType `json:"type"`
			Text string           `json:"text"`
		}{b.Type, b.Text})

	case ContentBlockTypeImage:
		return json.Marshal(struct {
			Type   ContentBlockType `json:"type"`
			Source *ImageSource     `json:"source"`
		}{b.Type, b.Source})

	case ContentBlockTypeToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return json.Marshal(struct {
			Type  ContentBlockType `json:"type"`
			ID    string           `json:"id"`
			Name  string           `json:"name"`
			Input json.RawMessage  `json:"input"`
		}{b.Type, b.ID, b.Name, input})

	case ContentBlockTypeToolResult:
		return json.Marshal(struct {
			Type      ContentBlockType `json:"type"`
			ToolUseID string           `json:"tool_use_id"`
			Content   *MessageContent  `json:"content,omitempty"`
			IsError   bool             `json:"is_error,omitempty"`
		}{b.Type, b.ToolUseID, b.Content, b.IsError})

	case ContentBlockTypeThinking:
		return json.Marshal(struct {
			Type      ContentBlockType `json:"type"`
			Thinking  string           `json:"thinking"`
			Signature string           `json:"signature,omitempty"`
		}{b.Type, b.Thinking, b.Signature})

	default:
		// Unknown block types round-trip with whatever fields are set.
		type raw ContentBlock
		return json.Marshal(raw(b))
	}
}

// ImageSource carries inline image data for an image content block.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockTypeText, Text: text}
}

// NewToolUseBlock creates a tool_use content block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{Type: ContentBlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one role-tagged conversation turn.
type Message struct {
	Role    MessageRole    `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent holds message content, which the wire format allows as
// either a plain string or an array of content blocks. Exactly one of Text
// (with Plain set) or Blocks is meaningful.
type MessageContent struct {
	Plain  bool
	Text   string
	Blocks []ContentBlock
}

// Normalized returns the content as a block slice, wrapping plain text in a
// single text block.
func (c MessageContent) Normalized() []ContentBlock {
	if c.Plain {
		return []ContentBlock{NewTextBlock(c.Text)}
	}
	return c.Blocks
}

// IsEmpty reports whether the content carries neither text nor blocks.
func (c MessageContent) IsEmpty() bool {
	if c.Plain {
		return c.Text == ""
	}
	return len(c.Blocks) == 0
}

// Text creates plain-string message content.
func Text(s string) MessageContent {
	return MessageContent{Plain: true, Text: s}
}

// Blocks creates block-array message content.
func Blocks(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// MarshalJSON serializes the content in the shape it was built with:
// a JSON string for plain content, a JSON array otherwise.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Plain {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON deserializes content from either a JSON string or an array
// of content blocks.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Plain = true
		c.Text = s
		c.Blocks = nil
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of content blocks: %w", err)
	}
	c.Plain = false
	c.Text = ""
	c.Blocks = blocks
	return nil
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// Tool describes a tool the client makes available to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice represents a tool selection strategy: "auto", "any", "none",
// or "tool" with a specific tool name.
type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse *bool  `json:"disable_parallel_tool_use,omitempty"`
}

const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceNone = "none"
	ToolChoiceTool = "tool"
)

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" or "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ---------------------------------------------------------------------------
// Request and response envelopes
// ---------------------------------------------------------------------------

// MessagesRequest is the request body for POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        *MessageContent `json:"system,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
	// StopReasonError marks a stream that terminated abnormally after
	// content had already been sent.
	StopReasonError StopReason = "error"
)

// MessagesResponse is the assistant message returned by POST /v1/messages.
// StopReason is a pointer because it is null in the message_start frame of
// a streamed response.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // always "message"
	Role         MessageRole    `json:"role"` // always "assistant"
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *StopReason    `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// NewMessagesResponse creates a response envelope with a fresh message ID
// and the fixed type/role fields populated.
func NewMessagesResponse(model string) *MessagesResponse {
	return &MessagesResponse{
		ID:      NewMessageID(),
		Type:    "message",
		Role:    RoleAssistant,
		Model:   model,
		Content: []ContentBlock{},
	}
}

// Usage holds token accounting for one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ---------------------------------------------------------------------------
// Token counting
// ---------------------------------------------------------------------------

// CountTokensRequest is the request body for POST /v1/messages/count_tokens.
// It mirrors MessagesRequest without generation parameters.
type CountTokensRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	System   *MessageContent `json:"system,omitempty"`
	Tools    []Tool          `json:"tools,omitempty"`
}

// CountTokensResponse reports the estimated input token count.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
