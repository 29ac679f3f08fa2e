package api

import (
	"encoding/json"
	"testing"
)

func TestStreamEventWireShapes(t *testing.T) {
	msg := NewMessagesResponse("backend-model-1")
	msg.ID = "msg_abc"
	msg.Usage = Usage{InputTokens: 12}

	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{
			"message_start",
			NewMessageStartEvent(msg),
			`{"type":"message_start","message":{"id":"msg_abc","type":"message","role":"assistant","model":"backend-model-1","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":0}}}`,
		},
		{
			"content_block_start",
			NewContentBlockStartEvent(0, NewTextBlock("")),
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		},
		{
			"ping",
			NewPingEvent(),
			`{"type":"ping"}`,
		},
		{
			"text delta",
			NewTextDeltaEvent(0, "Hel"),
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		},
		{
			"input json delta",
			NewInputJSONDeltaEvent(1, `{"loc`),
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"loc"}}`,
		},
		{
			"content_block_stop",
			NewContentBlockStopEvent(0),
			`{"type":"content_block_stop","index":0}`,
		},
		{
			"message_delta",
			NewMessageDeltaEvent(StopReasonEndTurn, nil, 42),
			`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":42}}`,
		},
		{
			"message_stop",
			NewMessageStopEvent(),
			`{"type":"message_stop"}`,
		},
		{
			"error",
			NewErrorEvent(NewStreamExhaustedError(3, "connection reset")),
			`{"type":"error","error":{"type":"api_error","code":"stream_exhausted","message":"stream failed after 3 retries: connection reset"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("wire shape mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestStreamEventUnmarshalDeltaUnion(t *testing.T) {
	t.Run("block delta", func(t *testing.T) {
		var ev StreamEvent
		raw := `{"type":"content_block_delta","index":2,"delta":{"type":"text_delta","text":"hi"}}`
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if ev.Index != 2 {
			t.Errorf("Index = %d", ev.Index)
		}
		if ev.Delta == nil || ev.Delta.Type != DeltaTypeText || ev.Delta.Text != "hi" {
			t.Errorf("Delta = %+v", ev.Delta)
		}
		if ev.MessageDelta != nil {
			t.Error("MessageDelta should be nil for content_block_delta")
		}
	})

	t.Run("message delta", func(t *testing.T) {
		var ev StreamEvent
		raw := `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":7}}`
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if ev.MessageDelta == nil || ev.MessageDelta.StopReason != StopReasonToolUse {
			t.Errorf("MessageDelta = %+v", ev.MessageDelta)
		}
		if ev.Delta != nil {
			t.Error("Delta should be nil for message_delta")
		}
		if ev.Usage == nil || ev.Usage.OutputTokens != 7 {
			t.Errorf("Usage = %+v", ev.Usage)
		}
	})
}

func TestStreamEventMarshalUnknownType(t *testing.T) {
	_, err := json.Marshal(StreamEvent{Type: "bogus"})
	if err == nil {
		t.Error("expected error for unknown event type")
	}
}
