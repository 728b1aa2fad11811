package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yeremiapane/tablesync/models"
)

// POSClient places an approved order with the point-of-sale system.
// Implementations must treat IdempotencyKey as a dedupe key so retries never
// create a second ticket.
type POSClient interface {
	PlaceOrder(ctx context.Context, req POSOrderRequest) (*POSResult, error)
}

type POSOrderRequest struct {
	IdempotencyKey string              `json:"idempotency_key"`
	RestaurantID   uint                `json:"restaurant_id"`
	Payload        models.OrderPayload `json:"order"`
}

type POSResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type POSConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func (c POSConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("POS_URL is not set")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("POS_URL must be an http(s) URL")
	}
	return nil
}

// HTTPPOSClient posts orders as JSON to {BaseURL}/orders.
type HTTPPOSClient struct {
	config     POSConfig
	httpClient *http.Client
}

func NewHTTPPOSClient(cfg POSConfig) (*HTTPPOSClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPPOSClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPPOSClient) PlaceOrder(ctx context.Context, req POSOrderRequest) (*POSResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal POS request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build POS request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POS request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read POS response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POS returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result POSResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode POS response: %w", err)
	}
	if mapPOSStatus(result.Status) == "rejected" {
		return nil, fmt.Errorf("POS rejected order %s", req.IdempotencyKey)
	}
	return &result, nil
}

func mapPOSStatus(status string) string {
	switch strings.ToLower(status) {
	case "", "accepted", "created", "queued", "duplicate":
		return "accepted"
	case "rejected", "declined", "error":
		return "rejected"
	default:
		return "accepted"
	}
}

// LocalPOSClient accepts every order without an upstream. Used when no POS
// endpoint is configured.
type LocalPOSClient struct{}

func (LocalPOSClient) PlaceOrder(_ context.Context, req POSOrderRequest) (*POSResult, error) {
	return &POSResult{Reference: "local-" + req.IdempotencyKey, Status: "accepted"}, nil
}
