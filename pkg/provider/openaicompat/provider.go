package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wandlerhq/wandler/pkg/debug"
	"github.com/wandlerhq/wandler/pkg/provider"
)

// Provider talks to an OpenAI-compatible backend over HTTP.
//
// Two clients are held: one with an overall timeout for request/response
// calls, and one without for streaming, where only response-header arrival
// is bounded and the context governs the body read.
type Provider struct {
	cfg          Config
	client       *http.Client
	streamClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider from cfg. The base URL is required; a zero timeout
// falls back to the default.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/v1")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	streamTransport := http.DefaultTransport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := t.Clone()
		cloned.ResponseHeaderTimeout = cfg.Timeout
		streamTransport = cloned
	}

	return &Provider{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{Transport: streamTransport},
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return "openaicompat"
}

// Capabilities implements provider.Provider. Chat Completions backends
// accept streaming, tool calling, and image parts in the wire format;
// whether a given model honors them is the backend's decision.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{
		Streaming:   true,
		ToolCalling: true,
		Vision:      true,
		Reasoning:   true,
	}
}

// Complete implements provider.Provider for non-streaming requests.
func (p *Provider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	chatReq, err := TranslateToChat(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = false
	chatReq.StreamOptions = nil

	httpReq, err := p.newRequest(ctx, http.MethodPost, "/v1/chat/completions", chatReq, "application/json")
	if err != nil {
		return nil, err
	}

	debug.Log("providers", "request", "method", "POST",
		"url", p.cfg.BaseURL+"/v1/chat/completions", "model", chatReq.Model, "stream", false)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, MapHTTPError(resp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding backend response: %w", err)
	}
	return TranslateResponse(&chatResp)
}

// Stream implements provider.Provider for streaming requests. The returned
// channel is closed by the producer when the stream ends for any reason.
func (p *Provider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	chatReq, err := TranslateToChat(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &StreamOptions{IncludeUsage: true}

	httpReq, err := p.newRequest(ctx, http.MethodPost, "/v1/chat/completions", chatReq, "text/event-stream")
	if err != nil {
		return nil, err
	}

	debug.Log("providers", "request", "method", "POST",
		"url", p.cfg.BaseURL+"/v1/chat/completions", "model", chatReq.Model, "stream", true)

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, MapHTTPError(resp)
	}

	ch := make(chan provider.ProviderEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		ParseSSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// ListModels implements provider.Provider. It doubles as the connectivity
// probe: a backend that answers GET /v1/models is alive.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := p.newRequest(ctx, http.MethodGet, "/v1/models", nil, "application/json")
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, MapHTTPError(resp)
	}

	var listResp ChatModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	models := make([]provider.ModelInfo, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		models = append(models, provider.ModelInfo{
			ID:      m.ID,
			Object:  m.Object,
			OwnedBy: m.OwnedBy,
		})
	}
	return models, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	p.streamClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the normalized backend endpoint.
func (p *Provider) BaseURL() string {
	return p.cfg.BaseURL
}

func (p *Provider) newRequest(ctx context.Context, method, path string, payload any, accept string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding backend request: %w", err)
		}
		if debug.TraceIsEnabled("providers") {
			debug.Raw("providers", string(data))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating backend request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return req, nil
}
