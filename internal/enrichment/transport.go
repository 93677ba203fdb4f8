package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixsec/fusion/internal/gateway"
)

// HTTPTransport performs provider lookups over HTTP. The wire shape is the
// generic request interface every provider implements; provider-specific
// schemas stay on the provider's side of the fence.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport builds a transport for one provider endpoint.
func NewHTTPTransport(url string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type lookupRequest struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
}

type lookupResponse struct {
	Verdict string `json:"verdict"`
	Score   int    `json:"score"`
	Detail  string `json:"detail,omitempty"`
}

// Do posts the lookup and maps the reply onto the gateway response. Non-2xx
// statuses are returned with the body discarded; the gateway classifies them.
func (t *HTTPTransport) Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(lookupRequest{Indicator: req.Indicator, Type: req.Type})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &gateway.Response{StatusCode: resp.StatusCode}, nil
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}

	return &gateway.Response{
		StatusCode: resp.StatusCode,
		Verdict:    lr.Verdict,
		RawScore:   lr.Score,
		Detail:     lr.Detail,
	}, nil
}
