package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/storage"
	"github.com/wandlerhq/wandler/pkg/transport"
)

// Handlers bundles the engine-facing contracts the adapter serves over
// HTTP. The engine satisfies all three.
type Handlers interface {
	transport.MessagesHandler
	transport.TokenCounter
	transport.ConnectionTester
}

// Adapter serves the Messages API over HTTP. It routes requests to the
// appropriate handler and serializes responses.
type Adapter struct {
	handler  transport.MessagesHandler
	counter  transport.TokenCounter
	tester   transport.ConnectionTester
	store    storage.Store // nil when ledger lookups are unavailable
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
	started  time.Time
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds

	// Service metadata reported by the health and root endpoints.
	Version    string
	BigModel   string
	SmallModel string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter around the given handlers. The
// store is optional; when nil the root endpoint omits exchange totals.
// Middleware is applied to the MessagesHandler in the given order.
func NewAdapter(h Handlers, store storage.Store, cfg Config, middlewares ...transport.Middleware) *Adapter {
	var handler transport.MessagesHandler = h
	if len(middlewares) > 0 {
		handler = transport.Chain(middlewares...)(handler)
	}

	a := &Adapter{
		handler:  handler,
		counter:  h,
		tester:   h,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
		started:  time.Now(),
	}

	a.mux.HandleFunc("POST /v1/messages", a.handleMessages)
	a.mux.HandleFunc("POST /v1/messages/count_tokens", a.handleCountTokens)
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /test-connection", a.handleTestConnection)
	a.mux.Handle("GET /metrics", promhttp.Handler())
	a.mux.HandleFunc("GET /{$}", a.handleServiceInfo)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// CancelInFlight cancels every registered streaming request and returns
// how many were still open. Used by the server when the shutdown grace
// period expires.
func (a *Adapter) CancelInFlight() int {
	return a.inflight.CancelAll()
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If client sent X-Request-ID, propagate it into context.
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		// Use a response writer wrapper to capture and set the request ID
		// header before the first write.
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// decodeJSONBody enforces the content type and body size limits shared
// by the POST endpoints, then decodes the body into dst. Errors have
// already been written to w when it returns false.
func (a *Adapter) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}

	return true
}

// handleMessages handles POST /v1/messages.
func (a *Adapter) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req api.MessagesRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}

	if req.Stream {
		a.handleStreamingMessage(w, r, &req)
		return
	}

	// Non-streaming: create ResponseWriter and dispatch.
	rw := newSSEResponseWriter(w)
	if err := a.handler.CreateMessage(r.Context(), &req, rw); err != nil {
		a.writeHandlerError(w, rw, err)
		return
	}
}

// handleStreamingMessage handles streaming POST requests (stream: true).
// The request is registered in the in-flight registry so shutdown can
// tear down streams that outlive the drain period.
func (a *Adapter) handleStreamingMessage(w http.ResponseWriter, r *http.Request, req *api.MessagesRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := transport.RequestIDFromContext(ctx)
	if id == "" {
		id = api.NewRequestID()
	}
	a.inflight.Register(id, cancel)
	defer a.inflight.Remove(id)

	rw := newSSEResponseWriter(w)
	if err := a.handler.CreateMessage(ctx, req, rw); err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleCountTokens handles POST /v1/messages/count_tokens.
func (a *Adapter) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req api.CountTokensRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}

	resp, err := a.counter.CountTokens(r.Context(), &req)
	if err != nil {
		transport.WriteAPIError(w, asAPIError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleHealth handles GET /health. It reports liveness of the gateway
// process itself; backend reachability is the test-connection endpoint's
// job. The out-of-band monitor probes this route.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"version":        a.config.Version,
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
	})
}

// handleTestConnection handles GET /test-connection. It performs one
// round-trip to the backend model listing and reports 503 when the
// backend cannot be reached.
func (a *Adapter) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	models, err := a.tester.TestConnection(r.Context())
	if err != nil {
		transport.WriteErrorResponse(w, asAPIError(err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"models": models,
	})
}

// handleServiceInfo handles GET / (exact path only). It reports service
// identity, the configured model mapping targets, and exchange totals
// from the ledger when one is configured.
func (a *Adapter) handleServiceInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service": "wandler",
		"version": a.config.Version,
		"models": map[string]string{
			"big":   a.config.BigModel,
			"small": a.config.SmallModel,
		},
	}

	if a.store != nil {
		if stats, err := a.store.ExchangeStats(r.Context()); err == nil {
			info["exchanges"] = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// asAPIError coerces any error into the client error envelope.
func asAPIError(err error) *api.Error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return api.NewAPIError(err.Error())
}

// writeHandlerError writes an error response from the handler. If
// streaming has already started the error belongs in-band: the engine
// emits the error event and terminal frames itself before returning, so
// normally there is nothing left to write. A handler that bailed out
// without completing the stream gets a best-effort error event and
// terminal frame appended.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, rw *sseResponseWriter, err error) {
	apiErr := asAPIError(err)

	if rw.hasStartedStreaming() {
		if rw.isCompleted() {
			return
		}
		rw.WriteEvent(context.Background(), api.NewErrorEvent(apiErr))
		rw.WriteEvent(context.Background(), api.NewMessageStopEvent())
		return
	}

	// No streaming started; return JSON error.
	transport.WriteAPIError(w, apiErr)
}
