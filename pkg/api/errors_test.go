package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrorInterface(t *testing.T) {
	var _ error = &Error{}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"with code",
			&Error{Type: ErrorTypeInvalidRequest, Code: ErrorCodeUnknownModel, Message: "no such model"},
			"invalid_request_error (unknown_model): no such model",
		},
		{
			"without code",
			&Error{Type: ErrorTypeAPIError, Message: "internal failure"},
			"api_error: internal failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantType ErrorType
		wantCode string
	}{
		{"invalid request", NewInvalidRequestError("bad"), ErrorTypeInvalidRequest, ""},
		{"unknown model", NewUnknownModelError("mystery-9"), ErrorTypeInvalidRequest, ErrorCodeUnknownModel},
		{"translation", NewTranslationError("empty messages"), ErrorTypeInvalidRequest, ErrorCodeTranslation},
		{"stream exhausted", NewStreamExhaustedError(2, "reset"), ErrorTypeAPIError, ErrorCodeStreamExhausted},
		{"backend unavailable", NewBackendUnavailableError("refused"), ErrorTypeAPIError, ErrorCodeBackendDown},
		{"overloaded", NewOverloadedError("busy"), ErrorTypeOverloaded, ""},
		{"authentication", NewAuthenticationError("bad key"), ErrorTypeAuthentication, ""},
		{"not found", NewNotFoundError("no route"), ErrorTypeNotFound, ""},
		{"api", NewAPIError("oops"), ErrorTypeAPIError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"overloaded", NewOverloadedError("busy"), true},
		{"backend unavailable", NewBackendUnavailableError("down"), true},
		{"generic api error", NewAPIError("hiccup"), true},
		{"stream exhausted", NewStreamExhaustedError(3, "gave up"), false},
		{"backend rejected", NewBackendRejectedError("bad key"), false},
		{"invalid request", NewInvalidRequestError("bad"), false},
		{"unknown model", NewUnknownModelError("gpt-9"), false},
		{"not found", NewNotFoundError("missing"), false},
		{"authentication", NewAuthenticationError("denied"), false},
		{"context cancelled", context.Canceled, false},
		{"raw transport error", errors.New("connection reset by peer"), true},
		{"wrapped api error", fmt.Errorf("attempt 1: %w", NewBackendUnavailableError("down")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(NewUnknownModelError("x")))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if m["type"] != "error" {
		t.Errorf("envelope type = %v, want %q", m["type"], "error")
	}
	inner, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatal("error object missing")
	}
	if inner["type"] != "invalid_request_error" {
		t.Errorf("inner type = %v", inner["type"])
	}
}
