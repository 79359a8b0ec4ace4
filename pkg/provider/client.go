package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/puttlab-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
)

const (
	defaultTimeout       = 10 * time.Second
	maxResponseBytes     = 1 << 20
	idempotencyHeader    = "Idempotency-Key"
	opCreateOrder        = "create_order"
	opChargeSavedProfile = "charge_saved_profile"
	opListOrders         = "list_orders"
)

var validate = validator.New()

// Options configure the provider client.
type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	BaseBackoff time.Duration
	MaxJitter   time.Duration
	HTTPClient  *http.Client
	Logger      *logger.Logger
	Metrics     *metrics.ProviderMetrics

	// MaxRetries caps retries after the first attempt. Nil means the default
	// of 3; a pointer to 0 disables retries.
	MaxRetries *uint64

	// Backoff overrides the retry schedule; each logical call gets a fresh value.
	Backoff func() retry.Backoff
}

// Client calls the payment provider's REST API. Every attempt has its own
// timeout; only 429 and 5xx responses are retried.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logg       *logger.Logger
	metrics    *metrics.ProviderMetrics
	newBackoff func() retry.Backoff
}

// New builds a provider client.
func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("provider base url required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	newBackoff := opts.Backoff
	if newBackoff == nil {
		baseBackoff, jitter := opts.BaseBackoff, opts.MaxJitter
		retries := uint64(defaultMaxRetries)
		if opts.MaxRetries != nil {
			retries = *opts.MaxRetries
		}
		if baseBackoff <= 0 {
			baseBackoff = defaultBaseBackoff
		}
		if jitter < 0 {
			jitter = defaultMaxJitter
		}
		newBackoff = func() retry.Backoff {
			return jitteredExponential(baseBackoff, jitter, retries)
		}
	}
	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		newBackoff: newBackoff,
	}, nil
}

// NewFromConfig builds a client from environment configuration.
func NewFromConfig(cfg config.ProviderConfig, logg *logger.Logger, m *metrics.ProviderMetrics) (*Client, error) {
	retries := cfg.MaxRetries
	return New(Options{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.Timeout,
		MaxRetries:  &retries,
		BaseBackoff: cfg.BaseBackoff,
		MaxJitter:   cfg.MaxJitter,
		Logger:      logg,
		Metrics:     m,
	})
}

// CreateOrder creates an order for a customer.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order request")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	var order Order
	if err := c.do(ctx, opCreateOrder, http.MethodPost, "/v1/orders", req, key, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ChargeSavedProfile charges orderID against a stored payment profile. The
// idempotency key is derived from both ids so a repeated charge of the same
// order is collapsed by the provider.
func (c *Client) ChargeSavedProfile(ctx context.Context, orderID, profileID string) (*Charge, error) {
	orderID = strings.TrimSpace(orderID)
	profileID = strings.TrimSpace(profileID)
	if orderID == "" || profileID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment profile id are required")
	}
	path := "/v1/orders/" + url.PathEscape(orderID) + "/charge"
	key := "charge-" + orderID + "-" + profileID
	var charge Charge
	if err := c.do(ctx, opChargeSavedProfile, http.MethodPost, path, chargeRequest{PaymentProfileID: profileID}, key, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// ListOrders returns orders matching filter.
func (c *Client) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := url.Values{}
	if filter.CustomerID != "" {
		query.Set("customer_id", filter.CustomerID)
	}
	for _, status := range filter.Statuses {
		query.Add("status", string(status))
	}
	if !filter.CreatedAfter.IsZero() {
		query.Set("created_after", filter.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/orders"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp listOrdersResponse
	if err := c.do(ctx, opListOrders, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, idempotencyKey string, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		payload = encoded
	}

	attempt := 0
	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		attempt++
		err := c.attempt(ctx, operation, attempt, method, path, payload, idempotencyKey, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return unwrapRetryable(err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, operation string, attempt int, method, path string, payload []byte, idempotencyKey string, out any) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"operation": operation,
		"attempt":   attempt,
		"method":    method,
		"path":      path,
	})
	c.logg.Info(logCtx, "provider.request.start")

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	var body []byte
	if err == nil {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
	}
	duration := time.Since(start)
	logCtx = c.logg.WithField(logCtx, "duration_ms", duration.Milliseconds())

	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			timeoutErr := &TimeoutError{Operation: operation, Timeout: c.timeout}
			c.metrics.ObserveAttempt(operation, "timeout", duration)
			c.logg.Error(logCtx, "provider.request.failure", timeoutErr)
			return timeoutErr
		}
		c.metrics.ObserveAttempt(operation, "terminal", duration)
		c.logg.Error(logCtx, "provider.request.failure", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("provider %s: %w", operation, err)
	}

	logCtx = c.logg.WithField(logCtx, "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(operation, resp.StatusCode, body)
		outcome := "terminal"
		if apiErr.Retryable() {
			outcome = "retryable"
		}
		c.metrics.ObserveAttempt(operation, outcome, duration)
		c.logg.Error(c.logg.WithField(logCtx, "retryable", apiErr.Retryable()), "provider.request.failure", apiErr)
		return apiErr
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			c.metrics.ObserveAttempt(operation, "terminal", duration)
			c.logg.Error(logCtx, "provider.request.failure", err)
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	c.metrics.ObserveAttempt(operation, "success", duration)
	c.logg.Info(logCtx, "provider.request.success")
	return nil
}

// unwrapRetryable strips go-retry's marker so callers see the APIError itself.
func unwrapRetryable(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}
