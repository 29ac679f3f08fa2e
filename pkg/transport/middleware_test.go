package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/wandlerhq/wandler/pkg/api"
)

// recordingWriter is a minimal ResponseWriter for testing middleware.
type recordingWriter struct {
	events  []api.StreamEvent
	message *api.MessagesResponse
	flushed bool
}

func (w *recordingWriter) WriteEvent(_ context.Context, event api.StreamEvent) error {
	w.events = append(w.events, event)
	return nil
}

func (w *recordingWriter) WriteMessage(_ context.Context, msg *api.MessagesResponse) error {
	w.message = msg
	return nil
}

func (w *recordingWriter) Flush() error {
	w.flushed = true
	return nil
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next MessagesHandler) MessagesHandler {
			return MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
				order = append(order, name+":before")
				err := next.CreateMessage(ctx, req, w)
				order = append(order, name+":after")
				return err
			})
		}
	}

	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		order = append(order, "handler")
		return nil
	})

	chain := Chain(mw("first"), mw("second"), mw("third"))
	chain(handler).CreateMessage(context.Background(), &api.MessagesRequest{}, &recordingWriter{})

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		panic("test panic")
	})

	err := Recovery()(handler).CreateMessage(context.Background(), &api.MessagesRequest{}, &recordingWriter{})
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.Error, got %T: %v", err, err)
	}
	if apiErr.Type != api.ErrorTypeAPIError {
		t.Errorf("error type = %q, want %q", apiErr.Type, api.ErrorTypeAPIError)
	}
	if !strings.Contains(apiErr.Message, "test panic") {
		t.Errorf("error message = %q, should contain %q", apiErr.Message, "test panic")
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		return nil
	})

	if err := Recovery()(handler).CreateMessage(context.Background(), &api.MessagesRequest{}, &recordingWriter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		capturedID = RequestIDFromContext(ctx)
		return nil
	})

	RequestID()(handler).CreateMessage(context.Background(), &api.MessagesRequest{}, &recordingWriter{})

	if capturedID == "" {
		t.Error("expected a generated request ID, got empty string")
	}
	if !strings.HasPrefix(capturedID, "req_") {
		t.Errorf("request ID = %q, want req_ prefix", capturedID)
	}
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	var capturedID string

	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		capturedID = RequestIDFromContext(ctx)
		return nil
	})

	ctx := ContextWithRequestID(context.Background(), "existing-id-123")
	RequestID()(handler).CreateMessage(ctx, &api.MessagesRequest{}, &recordingWriter{})

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		ids[RequestIDFromContext(ctx)] = true
		return nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		wrapped.CreateMessage(context.Background(), &api.MessagesRequest{}, &recordingWriter{})
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		return nil
	})

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	Logging(logger)(handler).CreateMessage(ctx, &api.MessagesRequest{Model: "test-model", Stream: true}, &recordingWriter{})

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "model=test-model", "stream=true", "request completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := MessagesHandlerFunc(func(ctx context.Context, req *api.MessagesRequest, w ResponseWriter) error {
		return api.NewBackendUnavailableError("test failure")
	})

	Logging(logger)(handler).CreateMessage(context.Background(), &api.MessagesRequest{Model: "test"}, &recordingWriter{})

	output := buf.String()
	if !strings.Contains(output, "request failed") {
		t.Errorf("log output missing 'request failed' in:\n%s", output)
	}
	if !strings.Contains(output, "test failure") {
		t.Errorf("log output missing error message in:\n%s", output)
	}
}
