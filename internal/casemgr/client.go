// Package casemgr creates the parent/child case hierarchy in the external
// case system for escalated groups. The case system owns case content;
// fusion keeps only the relation.
package casemgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/models"
)

// Client talks to the external case system. Every mutating call carries an
// Idempotency-Key derived from correlationKey + windowStart so retries after
// a crash never create duplicate cases.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a case system client from configuration.
func NewClient(cfg config.CaseSystemConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type caseResponse struct {
	CaseID string `json:"case_id"`
}

type childCaseRequest struct {
	TenantID string   `json:"tenant_id"`
	AlertIDs []string `json:"alert_ids"`
}

type linkRequest struct {
	ChildCaseID string `json:"child_case_id"`
}

// CreateParentCase opens one parent case for a group.
func (c *Client) CreateParentCase(ctx context.Context, summary *models.GroupSummary, idempotencyKey string) (string, error) {
	var resp caseResponse
	err := c.post(ctx, "/api/v1/cases", summary, idempotencyKey+":parent", &resp)
	if err != nil {
		return "", fmt.Errorf("create parent case: %w", err)
	}
	return resp.CaseID, nil
}

// CreateChildCase opens a child case for one tenant's alerts under a parent.
func (c *Client) CreateChildCase(ctx context.Context, parentCaseID, tenantID string, alertIDs []string, idempotencyKey string) (string, error) {
	var resp caseResponse
	path := fmt.Sprintf("/api/v1/cases/%s/children", parentCaseID)
	err := c.post(ctx, path, childCaseRequest{TenantID: tenantID, AlertIDs: alertIDs},
		idempotencyKey+":child:"+tenantID, &resp)
	if err != nil {
		return "", fmt.Errorf("create child case for tenant %s: %w", tenantID, err)
	}
	return resp.CaseID, nil
}

// LinkChild records the parent/child relation in the case system.
func (c *Client) LinkChild(ctx context.Context, parentCaseID, childCaseID, idempotencyKey string) error {
	path := fmt.Sprintf("/api/v1/cases/%s/links", parentCaseID)
	if err := c.post(ctx, path, linkRequest{ChildCaseID: childCaseID},
		idempotencyKey+":link:"+childCaseID, nil); err != nil {
		return fmt.Errorf("link child case %s: %w", childCaseID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, idempotencyKey string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("case system returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
