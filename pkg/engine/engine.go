package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/modelmap"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/provider"
	"github.com/wandlerhq/wandler/pkg/storage"
	"github.com/wandlerhq/wandler/pkg/transport"
)

// Engine orchestrates request processing between the transport layer and
// the provider backend. It implements transport.MessagesHandler,
// transport.TokenCounter, and transport.ConnectionTester.
type Engine struct {
	provider provider.Provider
	mapper   *modelmap.Mapper
	store    storage.Store
	cfg      Config
}

var (
	_ transport.MessagesHandler  = (*Engine)(nil)
	_ transport.TokenCounter     = (*Engine)(nil)
	_ transport.ConnectionTester = (*Engine)(nil)
)

// New creates an Engine. The provider and mapper must not be nil. The
// store can be nil for ledger-less operation.
func New(p provider.Provider, mapper *modelmap.Mapper, store storage.Store, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	if mapper == nil {
		return nil, fmt.Errorf("engine: model mapper must not be nil")
	}
	return &Engine{
		provider: p,
		mapper:   mapper,
		store:    store,
		cfg:      cfg,
	}, nil
}

// exchangeResult carries what one handled request produced, for metrics
// and the exchange ledger.
type exchangeResult struct {
	usage   api.Usage
	retries int
}

// CreateMessage handles one Messages API request end to end: validate,
// resolve the model, translate, call the backend (streaming or batch),
// and record the exchange.
func (e *Engine) CreateMessage(ctx context.Context, req *api.MessagesRequest, w transport.ResponseWriter) error {
	if apiErr := api.ValidateRequest(req, e.cfg.validation()); apiErr != nil {
		return apiErr
	}

	backendModel, source, err := e.mapper.Resolve(req.Model)
	if err != nil {
		observability.ModelResolutionsTotal.WithLabelValues("unknown").Inc()
		return err
	}
	observability.ModelResolutionsTotal.WithLabelValues(string(source)).Inc()

	if apiErr := provider.ValidateCapabilities(e.provider.Capabilities(), req); apiErr != nil {
		return apiErr
	}

	provReq, err := e.translateRequest(req, backendModel)
	if err != nil {
		return err
	}

	streaming := req.Stream
	if streaming && e.cfg.StreamingDisabled {
		slog.Warn("streaming disabled by configuration, serving batch response",
			"request_id", transport.RequestIDFromContext(ctx),
			"model", req.Model)
		streaming = false
	}

	started := time.Now()
	var res exchangeResult
	if streaming {
		res, err = e.streamMessage(ctx, req, provReq, w)
	} else {
		res, err = e.respondMessage(ctx, req, provReq, w)
	}
	e.recordExchange(ctx, req, backendModel, started, res, err)
	return err
}

// CountTokens serves the deterministic token estimate for a request
// envelope. The model must resolve so clients learn about bad aliases
// before paying for a full request.
func (e *Engine) CountTokens(ctx context.Context, req *api.CountTokensRequest) (*api.CountTokensResponse, error) {
	if req.Model == "" {
		return nil, api.NewInvalidRequestError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, api.NewInvalidRequestError("messages must contain at least one message")
	}
	if _, _, err := e.mapper.Resolve(req.Model); err != nil {
		observability.ModelResolutionsTotal.WithLabelValues("unknown").Inc()
		return nil, err
	}
	return &api.CountTokensResponse{InputTokens: estimateRequestTokens(req)}, nil
}

// TestConnection performs a minimal backend round-trip and returns the
// model identifiers the backend reports.
func (e *Engine) TestConnection(ctx context.Context) ([]string, error) {
	models, err := e.provider.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// recordExchange updates token metrics and appends one record to the
// exchange ledger. Ledger failures are logged, never surfaced: the client
// already has its response.
func (e *Engine) recordExchange(ctx context.Context, req *api.MessagesRequest, backendModel string, started time.Time, res exchangeResult, handleErr error) {
	backend := e.provider.Name()
	if res.usage.InputTokens > 0 {
		observability.TokensTotal.WithLabelValues(backend, backendModel, "input").Add(float64(res.usage.InputTokens))
	}
	if res.usage.OutputTokens > 0 {
		observability.TokensTotal.WithLabelValues(backend, backendModel, "output").Add(float64(res.usage.OutputTokens))
	}

	if e.store == nil {
		return
	}

	status := storage.ExchangeCompleted
	switch {
	case errors.Is(handleErr, context.Canceled):
		status = storage.ExchangeCanceled
	case handleErr != nil:
		status = storage.ExchangeFailed
	}

	rec := &storage.ExchangeRecord{
		ClientModel:  req.Model,
		BackendModel: backendModel,
		Stream:       req.Stream,
		Retries:      res.retries,
		InputTokens:  res.usage.InputTokens,
		OutputTokens: res.usage.OutputTokens,
		Duration:     time.Since(started),
		Status:       status,
	}

	// The write must outlive a cancelled request context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.SaveExchange(saveCtx, rec); err != nil {
		slog.Warn("failed to record exchange",
			"request_id", transport.RequestIDFromContext(ctx),
			"error", err)
	}
}
