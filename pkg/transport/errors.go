package transport

import (
	"encoding/json"
	"net/http"

	"github.com/wandlerhq/wandler/pkg/api"
)

// HTTPStatusFromError maps an error type from the client envelope to the
// HTTP status code. Transport-level failures (body too large, malformed
// JSON, method not allowed) are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypePermission:
		return http.StatusForbidden
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case api.ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case api.ErrorTypeAPIError:
		// A dead backend or an exhausted stream is a gateway problem,
		// not an internal one.
		switch err.Code {
		case api.ErrorCodeBackendDown, api.ErrorCodeStreamExhausted, api.ErrorCodeBackendRejected:
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error envelope with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.NewErrorResponse(apiErr))
}

// WriteAPIError writes an error envelope, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.Error) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
