package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/wandlerhq/wandler/pkg/api"
)

// maxErrorBodySize caps how much of an error response body we read. Backends
// occasionally return large HTML error pages.
const maxErrorBodySize = 4096

// MapHTTPError converts a non-2xx backend response into a client-facing
// error. Backend authentication failures map to backend_unavailable rather
// than authentication_error: a rejected backend credential is a proxy
// configuration problem, not something the client can fix.
func MapHTTPError(resp *http.Response) *api.Error {
	detail := extractError(resp)
	msg := detail.Message

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return api.NewInvalidRequestError(fmt.Sprintf("backend rejected request: %s", msg))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return api.NewBackendRejectedError(fmt.Sprintf("backend rejected credentials: %s", msg))
	case resp.StatusCode == http.StatusNotFound:
		// Chat Completions backends report a model they do not serve as
		// a 404. Clients get the same unknown_model failure a mapper miss
		// produces; a route-level 404 stays not_found.
		if detail.mentionsModel() {
			return &api.Error{
				Type:    api.ErrorTypeInvalidRequest,
				Code:    api.ErrorCodeUnknownModel,
				Message: fmt.Sprintf("backend does not serve the requested model: %s", msg),
			}
		}
		return api.NewNotFoundError(fmt.Sprintf("backend resource not found: %s", msg))
	case resp.StatusCode == http.StatusTooManyRequests:
		return api.NewOverloadedError(fmt.Sprintf("backend rate limited: %s", msg))
	case resp.StatusCode >= 500:
		return api.NewBackendUnavailableError(fmt.Sprintf("backend error (HTTP %d): %s", resp.StatusCode, msg))
	default:
		return api.NewAPIError(fmt.Sprintf("unexpected backend status %d: %s", resp.StatusCode, msg))
	}
}

// MapNetworkError converts a transport-level failure into a client-facing
// error. Context cancellation passes through unchanged so callers can tell
// a disconnected client apart from a broken backend.
func MapNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewBackendUnavailableError(fmt.Sprintf("backend request timed out: %v", err))
	case errors.As(err, &netErr) && netErr.Timeout():
		return api.NewBackendUnavailableError(fmt.Sprintf("backend request timed out: %v", err))
	default:
		return api.NewBackendUnavailableError(fmt.Sprintf("backend connection failed: %v", err))
	}
}

// ExtractErrorMessage pulls a human-readable message out of a backend error
// response, falling back to the raw body or the HTTP status.
func ExtractErrorMessage(resp *http.Response) string {
	return extractError(resp).Message
}

// extractError parses the backend error envelope. The Message field is
// always populated, falling back to the raw body or the HTTP status.
func extractError(resp *http.Response) ChatError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(body) == 0 {
		return ChatError{Message: resp.Status}
	}

	var chatErr ChatErrorResponse
	if err := json.Unmarshal(body, &chatErr); err == nil && chatErr.Error.Message != "" {
		return chatErr.Error
	}

	if msg := strings.TrimSpace(string(body)); msg != "" {
		return ChatError{Message: msg}
	}
	return ChatError{Message: resp.Status}
}

// mentionsModel reports whether the error identifies a missing model,
// through the conventional code or the message text.
func (e ChatError) mentionsModel() bool {
	if code, ok := e.Code.(string); ok && code == "model_not_found" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "model")
}
