package steve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voltbill/chargesync/internal/config"
	"github.com/voltbill/chargesync/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the SteVe API client.
var Module = fx.Provide(NewClient)

// APIError is a non-2xx response from the SteVe API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("steve: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("steve: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) HTTPStatus() int {
	return e.Status
}

// Client talks to the SteVe OCPP management backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.SteveBaseURL,
		apiKey:  cfg.SteveAPIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.Named("steve.client"),
	}
}

// ListTags returns every OCPP tag known to the backend.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := retry.Do(ctx, func(ctx context.Context) error {
		tags = tags[:0]
		return c.doRequest(ctx, http.MethodGet, "/api/v1/ocppTags", nil, nil, &tags)
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// ListTransactions returns transactions matching the query filters.
func (c *Client) ListTransactions(ctx context.Context, query TransactionQuery) ([]Transaction, error) {
	values := url.Values{}
	if query.ChargeBoxID != "" {
		values.Set("chargeBoxId", query.ChargeBoxID)
	}
	if query.OcppIDTag != "" {
		values.Set("ocppIdTag", query.OcppIDTag)
	}
	if query.ActiveOnly {
		values.Set("returnType", "ACTIVE")
	} else {
		values.Set("returnType", "ALL")
	}
	if query.From != nil {
		values.Set("from", query.From.UTC().Format(time.RFC3339))
	}
	if query.To != nil {
		values.Set("to", query.To.UTC().Format(time.RFC3339))
	}

	var transactions []Transaction
	err := retry.Do(ctx, func(ctx context.Context) error {
		transactions = transactions[:0]
		return c.doRequest(ctx, http.MethodGet, "/api/v1/transactions", values, nil, &transactions)
	})
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// UpdateTag submits the complete tag form. The backend rejects partial
// updates, so callers must echo every field back.
func (c *Client) UpdateTag(ctx context.Context, tagPk int64, form UpdateTagForm) error {
	path := "/api/v1/ocppTags/" + strconv.FormatInt(tagPk, 10)
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodPut, path, nil, form, nil)
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("STEVE-API-KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("steve: decode response: %w", err)
	}
	return nil
}
