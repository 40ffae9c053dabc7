package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BillingClient posts committed-claim notifications to the billing system.
// With no base URL configured it approves locally, which keeps the saga's
// final step a no-op in standalone deployments.
type BillingClient struct {
	baseURL string
	client  *http.Client
}

func NewBillingClient(baseURL string) *BillingClient {
	return &BillingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type claimNotification struct {
	ClaimID string `json:"claim_id"`
}

type claimNotificationResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (c *BillingClient) NotifyClaimSubmitted(ctx context.Context, claimID string) (bool, string, error) {
	if c.baseURL == "" {
		return true, "billing notification disabled", nil
	}
	payload, err := json.Marshal(claimNotification{ClaimID: claimID})
	if err != nil {
		return false, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/claims/notifications", bytes.NewReader(payload))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("notify billing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "", fmt.Errorf("notify billing: unexpected status %d", resp.StatusCode)
	}
	var result claimNotificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, "", fmt.Errorf("decode billing response: %w", err)
	}
	return result.Approved, result.Reason, nil
}
