package api

import (
	"encoding/json"
	"fmt"
)

// StreamEventType identifies the type of a streaming event. The type string
// doubles as the SSE "event:" field name.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventPing              StreamEventType = "ping"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventError             StreamEventType = "error"
)

// DeltaType identifies the kind of incremental payload in a
// content_block_delta event.
type DeltaType string

const (
	DeltaTypeText      DeltaType = "text_delta"
	DeltaTypeInputJSON DeltaType = "input_json_delta"
	DeltaTypeThinking  DeltaType = "thinking_delta"
)

// Delta is the incremental payload of a content_block_delta event.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
	Thinking    string    `json:"thinking,omitempty"`
}

// MarshalJSON keeps the payload field matching Type present even when empty.
func (d Delta) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeltaTypeText:
		return json.Marshal(struct {
			Type DeltaType `json:"type"`
			Text string    `json:"text"`
		}{d.Type, d.Text})
	case DeltaTypeInputJSON:
		return json.Marshal(struct {
			Type        DeltaType `json:"type"`
			PartialJSON string    `json:"partial_json"`
		}{d.Type, d.PartialJSON})
	case DeltaTypeThinking:
		return json.Marshal(struct {
			Type     DeltaType `json:"type"`
			Thinking string    `json:"thinking"`
		}{d.Type, d.Thinking})
	default:
		type raw Delta
		return json.Marshal(raw(d))
	}
}

// MessageDelta carries the final stop information in a message_delta event.
type MessageDelta struct {
	StopReason   StopReason `json:"stop_reason"`
	StopSequence *string    `json:"stop_sequence"`
}

// MessageDeltaUsage carries output token usage in a message_delta event.
type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent represents a single server-sent event in a streaming response.
// Exactly the fields relevant to Type are populated.
type StreamEvent struct {
	Type         StreamEventType
	Message      *MessagesResponse
	Index        int
	ContentBlock *ContentBlock
	Delta        *Delta
	MessageDelta *MessageDelta
	Usage        *MessageDeltaUsage
	Error        *Error
}

// NewMessageStartEvent opens a streamed response with the message skeleton
// (empty content, null stop_reason, input token usage).
func NewMessageStartEvent(msg *MessagesResponse) StreamEvent {
	return StreamEvent{Type: EventMessageStart, Message: msg}
}

// NewContentBlockStartEvent opens the content block at the given index.
func NewContentBlockStartEvent(index int, block ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &block}
}

// NewPingEvent creates a keepalive event.
func NewPingEvent() StreamEvent {
	return StreamEvent{Type: EventPing}
}

// NewTextDeltaEvent creates a text increment for the block at index.
func NewTextDeltaEvent(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: &Delta{Type: DeltaTypeText, Text: text},
	}
}

// NewInputJSONDeltaEvent creates a tool input increment for the block at index.
func NewInputJSONDeltaEvent(index int, partial string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: &Delta{Type: DeltaTypeInputJSON, PartialJSON: partial},
	}
}

// NewContentBlockStopEvent closes the content block at the given index.
func NewContentBlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: index}
}

// NewMessageDeltaEvent carries the stop reason and output usage ahead of the
// terminal message_stop event.
func NewMessageDeltaEvent(reason StopReason, stopSequence *string, outputTokens int) StreamEvent {
	return StreamEvent{
		Type:         EventMessageDelta,
		MessageDelta: &MessageDelta{StopReason: reason, StopSequence: stopSequence},
		Usage:        &MessageDeltaUsage{OutputTokens: outputTokens},
	}
}

// NewMessageStopEvent terminates a streamed response.
func NewMessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// NewErrorEvent reports a mid-stream failure. It precedes, never replaces,
// the terminal framing events.
func NewErrorEvent(err *Error) StreamEvent {
	return StreamEvent{Type: EventError, Error: err}
}

// MarshalJSON serializes the event to its wire shape. Block-scoped events
// always carry their index; bare events (ping, message_stop) carry only the
// type field.
func (ev StreamEvent) MarshalJSON() ([]byte, error) {
	switch ev.Type {
	case EventMessageStart:
		return json.Marshal(struct {
			Type    StreamEventType   `json:"type"`
			Message *MessagesResponse `json:"message"`
		}{ev.Type, ev.Message})

	case EventContentBlockStart:
		return json.Marshal(struct {
			Type         StreamEventType `json:"type"`
			Index        int             `json:"index"`
			ContentBlock *ContentBlock   `json:"content_block"`
		}{ev.Type, ev.Index, ev.ContentBlock})

	case EventContentBlockDelta:
		return json.Marshal(struct {
			Type  StreamEventType `json:"type"`
			Index int             `json:"index"`
			Delta *Delta          `json:"delta"`
		}{ev.Type, ev.Index, ev.Delta})

	case EventContentBlockStop:
		return json.Marshal(struct {
			Type  StreamEventType `json:"type"`
			Index int             `json:"index"`
		}{ev.Type, ev.Index})

	case EventMessageDelta:
		return json.Marshal(struct {
			Type  StreamEventType    `json:"type"`
			Delta *MessageDelta      `json:"delta"`
			Usage *MessageDeltaUsage `json:"usage,omitempty"`
		}{ev.Type, ev.MessageDelta, ev.Usage})

	case EventError:
		return json.Marshal(struct {
			Type  StreamEventType `json:"type"`
			Error *Error          `json:"error"`
		}{ev.Type, ev.Error})

	case EventPing, EventMessageStop:
		return json.Marshal(struct {
			Type StreamEventType `json:"type"`
		}{ev.Type})

	default:
		return nil, fmt.Errorf("unknown stream event type %q", ev.Type)
	}
}

// UnmarshalJSON deserializes an event from its wire shape.
func (ev *StreamEvent) UnmarshalJSON(data []byte) error {
	var w struct {
		Type         StreamEventType    `json:"type"`
		Message      *MessagesResponse  `json:"message"`
		Index        int                `json:"index"`
		ContentBlock *ContentBlock      `json:"content_block"`
		Delta        json.RawMessage    `json:"delta"`
		Usage        *MessageDeltaUsage `json:"usage"`
		Error        *Error             `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ev.Type = w.Type
	ev.Message = w.Message
	ev.Index = w.Index
	ev.ContentBlock = w.ContentBlock
	ev.Usage = w.Usage
	ev.Error = w.Error
	ev.Delta = nil
	ev.MessageDelta = nil

	// The "delta" key holds a block delta or stop information depending on
	// the event type.
	if len(w.Delta) > 0 {
		switch w.Type {
		case EventMessageDelta:
			var md MessageDelta
			if err := json.Unmarshal(w.Delta, &md); err != nil {
				return fmt.Errorf("message_delta payload: %w", err)
			}
			ev.MessageDelta = &md
		default:
			var d Delta
			if err := json.Unmarshal(w.Delta, &d); err != nil {
				return fmt.Errorf("content_block_delta payload: %w", err)
			}
			ev.Delta = &d
		}
	}
	return nil
}
