package provider

import (
	"github.com/wandlerhq/wandler/pkg/api"
)

// ValidateCapabilities checks whether the given request is compatible with
// the provider's declared capabilities. Returns an api.Error identifying
// the specific unsupported feature, or nil if the request is compatible.
func ValidateCapabilities(caps ProviderCapabilities, req *api.MessagesRequest) *api.Error {
	// Check streaming support
	if req.Stream && !caps.Streaming {
		return api.NewInvalidRequestError(
			"the configured backend does not support streaming responses")
	}

	// Check tool calling support
	if len(req.Tools) > 0 && !caps.ToolCalling {
		return api.NewInvalidRequestError(
			"the configured backend does not support tool calling")
	}

	// Check for image inputs
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Normalized() {
			if block.Type == api.ContentBlockTypeImage && !caps.Vision {
				return api.NewInvalidRequestError(
					"the configured backend does not support image inputs")
			}
		}
	}

	// Check extended reasoning support
	if req.Thinking != nil && req.Thinking.Type == "enabled" && !caps.Reasoning {
		return api.NewInvalidRequestError(
			"the configured backend does not support extended thinking")
	}

	return nil
}
