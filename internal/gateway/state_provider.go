package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPStateProvider implements StateProvider against the auction engine's
// REST API. The gateway runs as its own process, so state reads go over the
// wire rather than into the engine directly.
type HTTPStateProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStateProvider creates a state provider for the given engine base
// URL, e.g. "http://localhost:8080".
func NewHTTPStateProvider(baseURL string) *HTTPStateProvider {
	return &HTTPStateProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetSessionState fetches the session snapshot from the engine.
func (p *HTTPStateProvider) GetSessionState(ctx context.Context, sessionID uuid.UUID) (*SessionStateResponse, error) {
	url := fmt.Sprintf("%s/api/sessions/%s/state", p.baseURL, sessionID)

	var state SessionStateResponse
	if err := p.getJSON(ctx, url, &state); err != nil {
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}
	return &state, nil
}

// GetActiveSessions fetches the active session listing from the engine.
func (p *HTTPStateProvider) GetActiveSessions(ctx context.Context) ([]SessionSummary, error) {
	url := p.baseURL + "/api/sessions/active"

	var sessions []SessionSummary
	if err := p.getJSON(ctx, url, &sessions); err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	return sessions, nil
}

func (p *HTTPStateProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
