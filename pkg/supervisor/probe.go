package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// probe checks the server's liveness endpoint and, when configured, the
// backend connectivity endpoint. The returned outcome names what failed:
// "unhealthy" for the server itself, "degraded" for the backend behind
// it, "success" otherwise.
func (m *Monitor) probe(ctx context.Context) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.probeTimeout())
	defer cancel()

	if err := m.get(pctx, m.healthURL); err != nil {
		return "unhealthy", fmt.Errorf("health probe: %w", err)
	}
	if m.backendURL != "" {
		if err := m.get(pctx, m.backendURL); err != nil {
			return "degraded", fmt.Errorf("backend probe: %w", err)
		}
	}
	return "success", nil
}

func (m *Monitor) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection goes back to the pool.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
