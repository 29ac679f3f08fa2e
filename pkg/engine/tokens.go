package engine

import "github.com/wandlerhq/wandler/pkg/api"

// Token estimation uses the chars/4 rule of thumb for BPE-family
// tokenizers. The count is deterministic for a given envelope: same
// input, same number, no backend round-trip.
const charsPerToken = 4

// imageTokenCost is the flat per-image estimate. It matches the cost of
// a full-size image; smaller images overcount, which is the safe
// direction for budget checks.
const imageTokenCost = 1600

// estimateRequestTokens computes the deterministic token estimate for a
// count_tokens envelope: system prompt, message content, and tool
// definitions all contribute.
func estimateRequestTokens(req *api.CountTokensRequest) int {
	chars := 0
	images := 0

	if req.System != nil {
		c, i := contentSize(*req.System)
		chars, images = chars+c, images+i
	}
	for _, msg := range req.Messages {
		chars += len(msg.Role)
		c, i := contentSize(msg.Content)
		chars, images = chars+c, images+i
	}
	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description) + len(tool.InputSchema)
	}

	tokens := (chars+charsPerToken-1)/charsPerToken + images*imageTokenCost
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// estimateMessagesTokens estimates the input tokens of a full request
// envelope, for the usage field of the message_start frame.
func estimateMessagesTokens(req *api.MessagesRequest) int {
	return estimateRequestTokens(&api.CountTokensRequest{
		Model:    req.Model,
		Messages: req.Messages,
		System:   req.System,
		Tools:    req.Tools,
	})
}

// contentSize returns the character count and image count of message
// content, descending into nested tool_result content.
func contentSize(c api.MessageContent) (chars, images int) {
	if c.Plain {
		return len(c.Text), 0
	}
	for _, b := range c.Blocks {
		switch b.Type {
		case api.ContentBlockTypeText:
			chars += len(b.Text)
		case api.ContentBlockTypeImage:
			images++
		case api.ContentBlockTypeToolUse:
			chars += len(b.Name) + len(b.Input)
		case api.ContentBlockTypeToolResult:
			chars += len(b.ToolUseID)
			if b.Content != nil {
				c, i := contentSize(*b.Content)
				chars, images = chars+c, images+i
			}
		case api.ContentBlockTypeThinking:
			chars += len(b.Thinking)
		}
	}
	return chars, images
}
