package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/debug"
	"github.com/wandlerhq/wandler/pkg/provider"
)

const (
	ssePrefix  = "data: "
	sseDone    = "[DONE]"
	maxSSELine = 1024 * 1024
)

// toolCallState accumulates one streamed tool call across chunks. The
// backend sends the ID and function name once and then argument fragments
// keyed by index.
type toolCallState struct {
	id   string
	name string
}

// ParseSSEStream reads a Chat Completions SSE body and emits neutral
// provider events on ch. It returns when the stream ends, errors, or the
// context is cancelled. The caller owns ch and closes it afterwards.
//
// Malformed chunks are logged and skipped rather than failing the stream;
// a single bad payload from a backend should not abort an otherwise healthy
// response. A read error surfaces as a provider error event unless the
// context was cancelled, in which case the caller already knows.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	calls := make(map[int]*toolCallState)
	done := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		debug.Raw("streaming", line)
		payload := strings.TrimPrefix(line, ssePrefix)
		if payload == sseDone {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed stream chunk",
				"error", err,
				"payload", debug.Truncate(payload, 200))
			continue
		}

		if !emitChunkEvents(ctx, &chunk, calls, &done, ch) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, ch, provider.ProviderEvent{
			Type: provider.ProviderEventError,
			Err:  MapNetworkError(err),
		})
	}
}

// emitChunkEvents translates one chunk into provider events. It returns
// false when the context was cancelled mid-send.
func emitChunkEvents(ctx context.Context, chunk *ChatCompletionChunk, calls map[int]*toolCallState, done *bool, ch chan<- provider.ProviderEvent) bool {
	// A chunk with no choices is the trailing usage report requested
	// via stream_options.
	if len(chunk.Choices) == 0 {
		if chunk.Usage == nil {
			return true
		}
		return send(ctx, ch, provider.ProviderEvent{
			Type: provider.ProviderEventDone,
			Usage: &api.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			},
		})
	}

	choice := chunk.Choices[0]

	if choice.Delta.ReasoningContent != "" {
		if !send(ctx, ch, provider.ProviderEvent{
			Type:  provider.ProviderEventReasoningDelta,
			Delta: choice.Delta.ReasoningContent,
		}) {
			return false
		}
	}

	if text := ExtractContentString(choice.Delta.Content); text != "" {
		if !send(ctx, ch, provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: text,
		}) {
			return false
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		state, ok := calls[idx]
		if !ok {
			state = &toolCallState{}
			calls[idx] = state
		}
		if tc.ID != "" {
			state.id = tc.ID
		}
		if tc.Function.Name != "" {
			state.name = tc.Function.Name
		}
		if !send(ctx, ch, provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDelta,
			ToolCallIndex: idx,
			ToolCallID:    state.id,
			FunctionName:  state.name,
			Delta:         tc.Function.Arguments,
		}) {
			return false
		}
	}

	if choice.FinishReason != nil && !*done {
		*done = true
		if !flushToolCalls(ctx, calls, ch) {
			return false
		}
		var usage *api.Usage
		if chunk.Usage != nil {
			usage = &api.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		return send(ctx, ch, provider.ProviderEvent{
			Type:       provider.ProviderEventDone,
			StopReason: MapFinishReason(choice.FinishReason, len(calls) > 0),
			Usage:      usage,
		})
	}

	return true
}

// flushToolCalls emits a done event for every buffered tool call, in index
// order, so the caller can close the corresponding content blocks.
func flushToolCalls(ctx context.Context, calls map[int]*toolCallState, ch chan<- provider.ProviderEvent) bool {
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	for _, idx := range indexes {
		state := calls[idx]
		if !send(ctx, ch, provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDone,
			ToolCallIndex: idx,
			ToolCallID:    state.id,
			FunctionName:  state.name,
		}) {
			return false
		}
	}
	return true
}

func send(ctx context.Context, ch chan<- provider.ProviderEvent, ev provider.ProviderEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
