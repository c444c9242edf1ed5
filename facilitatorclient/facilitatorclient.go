// Package facilitatorclient speaks to an x402 facilitator service: the
// external collaborator that verifies signed payment authorizations and
// settles them on chain on behalf of a resource server.
package facilitatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	x402 "github.com/agent402/x402-go"
)

// DefaultFacilitatorURL is the public facilitator endpoint.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	endpointVerify = "verify"
	endpointSettle = "settle"
)

// Config configures a facilitator client. CreateAuthHeaders, when set,
// returns per-endpoint auth headers keyed by endpoint name.
type Config struct {
	URL               string
	Timeout           time.Duration
	CreateAuthHeaders func() (map[string]map[string]string, error)
}

// Client is an HTTP client for the facilitator verify and settle endpoints.
type Client struct {
	url               string
	httpClient        *http.Client
	createAuthHeaders func() (map[string]map[string]string, error)
}

// New creates a facilitator client. A nil config targets the default
// facilitator with no auth.
func New(config *Config) *Client {
	if config == nil {
		config = &Config{URL: DefaultFacilitatorURL}
	}
	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}
	return &Client{
		url:               url,
		httpClient:        &http.Client{Timeout: config.Timeout},
		createAuthHeaders: config.CreateAuthHeaders,
	}
}

type verifySettleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the signed payment satisfies the
// requirements.
func (c *Client) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	if err := c.post(ctx, endpointVerify, payload, requirements, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle asks the facilitator to execute the verified payment on chain.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var resp x402.SettleResponse
	if err := c.post(ctx, endpointSettle, payload, requirements, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload *x402.PaymentPayload, requirements x402.PaymentRequirements, out interface{}) error {
	body, err := json.Marshal(verifySettleRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.url, endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if c.createAuthHeaders != nil {
		headers, err := c.createAuthHeaders()
		if err != nil {
			return fmt.Errorf("failed to create auth headers: %w", err)
		}
		for k, v := range headers[endpoint] {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s failed: %s", endpoint, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
