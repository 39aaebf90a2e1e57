package lago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/voltbill/chargesync/internal/config"
	"github.com/voltbill/chargesync/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the Lago API client.
var Module = fx.Provide(NewClient)

// APIError is a non-2xx response from the Lago API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lago: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("lago: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) HTTPStatus() int {
	return e.Status
}

// Client talks to the Lago usage-based billing API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.LagoBaseURL,
		apiKey:  cfg.LagoAPIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.Named("lago.client"),
	}
}

func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	var payload struct {
		Customers []Customer `json:"customers"`
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		payload.Customers = payload.Customers[:0]
		return c.doRequest(ctx, http.MethodGet, "/api/v1/customers", nil, nil, &payload)
	})
	if err != nil {
		return nil, err
	}
	return payload.Customers, nil
}

// ListSubscriptions returns subscriptions, optionally filtered by external
// customer id.
func (c *Client) ListSubscriptions(ctx context.Context, externalCustomerID string) ([]Subscription, error) {
	values := url.Values{}
	if externalCustomerID != "" {
		values.Set("external_customer_id", externalCustomerID)
	}

	var payload struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		payload.Subscriptions = payload.Subscriptions[:0]
		return c.doRequest(ctx, http.MethodGet, "/api/v1/subscriptions", values, nil, &payload)
	})
	if err != nil {
		return nil, err
	}
	return payload.Subscriptions, nil
}

func (c *Client) CreateEvent(ctx context.Context, event Event) error {
	body := map[string]Event{"event": event}
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodPost, "/api/v1/events", nil, body, nil)
	})
}

// CreateBatchEvents ingests up to MaxEventsPerBatch events in one call.
// Callers are expected to chunk; oversized batches are rejected locally
// rather than bounced by the platform.
func (c *Client) CreateBatchEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) > MaxEventsPerBatch {
		return fmt.Errorf("lago: batch of %d events exceeds the %d event limit", len(events), MaxEventsPerBatch)
	}
	body := map[string][]Event{"events": events}
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodPost, "/api/v1/events/batch", nil, body, nil)
	})
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("lago: decode response: %w", err)
	}
	return nil
}
