// Package gateway is the HTTP client for the upstream SMS gateway: one
// bulk-send RPC, one status lookup, and the HMAC verification used by the
// delivery-report webhook. The gateway's own batch-size and rate-limit
// behaviour is treated as a black box.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"savanna-sms/internal/core/port"
)

// Client talks to the upstream SMS gateway over HTTP with a fixed per-RPC
// timeout. A timeout is a hard RPC failure, never a partial success.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a gateway client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// SendBulk submits the whole batch in one RPC call. The response is aligned
// by position with the request; entries without a message ID were rejected
// by the gateway.
func (c *Client) SendBulk(ctx context.Context, msgs []port.GatewayMessage) ([]port.GatewayResult, error) {
	payload, err := json.Marshal(struct {
		Messages []port.GatewayMessage `json:"messages"`
	}{Messages: msgs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sms/bulk", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulk send: gateway returned %d", resp.StatusCode)
	}

	var out struct {
		Results []port.GatewayResult `json:"results"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bulk send: decode response: %w", err)
	}
	if len(out.Results) != len(msgs) {
		return nil, fmt.Errorf("bulk send: gateway returned %d results for %d messages", len(out.Results), len(msgs))
	}
	return out.Results, nil
}

// LookupStatus resolves the current delivery status of a message by the
// caller reference it was submitted with.
func (c *Client) LookupStatus(ctx context.Context, ref string) (port.LookupResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sms/lookup?ref="+url.QueryEscape(ref), nil)
	if err != nil {
		return port.LookupResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return port.LookupResult{}, fmt.Errorf("status lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return port.LookupResult{}, fmt.Errorf("status lookup: gateway returned %d", resp.StatusCode)
	}

	var out port.LookupResult
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return port.LookupResult{}, err
	}
	return out, nil
}

// VerifySignature checks the hex HMAC-SHA256 signature the gateway attaches
// to delivery-report callbacks.
func VerifySignature(secret, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
