package engine

import (
	"context"
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/provider"
	"github.com/wandlerhq/wandler/pkg/transport"
)

// respondMessage serves one non-streaming exchange: a single backend call
// translated into one complete response envelope. The response reports the
// resolved backend model so callers can see what actually served them.
func (e *Engine) respondMessage(ctx context.Context, req *api.MessagesRequest, provReq *provider.ProviderRequest, w transport.ResponseWriter) (exchangeResult, error) {
	provReq.Stream = false
	backend := e.provider.Name()

	started := time.Now()
	provResp, err := e.provider.Complete(ctx, provReq)
	observability.BackendLatency.WithLabelValues(backend, provReq.Model).Observe(time.Since(started).Seconds())
	if err != nil {
		observability.BackendRequestsTotal.WithLabelValues(backend, provReq.Model, "error").Inc()
		return exchangeResult{}, err
	}
	observability.BackendRequestsTotal.WithLabelValues(backend, provReq.Model, "success").Inc()

	resp := api.NewMessagesResponse(provReq.Model)
	resp.Content = provResp.Content
	if len(resp.Content) == 0 {
		// Clients expect at least one block even for empty completions.
		resp.Content = []api.ContentBlock{api.NewTextBlock("")}
	}
	stopReason := provResp.StopReason
	if stopReason == "" {
		stopReason = api.StopReasonEndTurn
	}
	resp.StopReason = &stopReason
	resp.Usage = provResp.Usage

	res := exchangeResult{usage: provResp.Usage}
	if err := w.WriteMessage(ctx, resp); err != nil {
		return res, err
	}
	return res, nil
}
