package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/transport"
)

// writerState tracks the state of an SSE ResponseWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // message_stop sent or WriteMessage called
)

// sseResponseWriter implements transport.ResponseWriter for HTTP responses.
// It handles both streaming (SSE) and non-streaming (JSON) output.
type sseResponseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ transport.ResponseWriter = (*sseResponseWriter)(nil)

// newSSEResponseWriter creates a ResponseWriter wrapping an http.ResponseWriter.
func newSSEResponseWriter(w http.ResponseWriter) *sseResponseWriter {
	return &sseResponseWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteEvent sends a single SSE event. The event is formatted as:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// message_stop is the terminal frame of the protocol; after it the
// writer refuses further writes. There is no [DONE] sentinel on the
// client-facing side.
func (s *sseResponseWriter) WriteEvent(ctx context.Context, event api.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: writer is completed")
	}

	// First event: set SSE headers.
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	// Serialize the event as JSON.
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Write SSE format.
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	// Flush immediately.
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if event.Type == api.EventMessageStop {
		s.state = writerCompleted
	}

	return nil
}

// WriteMessage sends a complete non-streaming JSON response.
// This is mutually exclusive with WriteEvent.
func (s *sseResponseWriter) WriteMessage(ctx context.Context, msg *api.MessagesResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write message: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write message: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseResponseWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one SSE event has been written.
func (s *sseResponseWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}

// isCompleted returns true once a terminal frame or a full message has
// been written.
func (s *sseResponseWriter) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerCompleted
}
