// Package stripe implements the processor client against the payment-intents
// REST API. It handles form encoding, idempotency keys, decline extraction
// and retry of transient failures; everything above it sees only the
// normalized adapter types.
package stripe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/yourorg/pos-payments/internal/adapter"
	"github.com/yourorg/pos-payments/internal/circuitbreaker"
	"github.com/yourorg/pos-payments/internal/metrics"
	"github.com/yourorg/pos-payments/internal/policy"
)

const (
	defaultAPIBaseURL = "https://api.stripe.com/v1"
	retryDelay        = 500 * time.Millisecond
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// intentResponse is the wire shape of a payment intent.
type intentResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	CancellationReason string `json:"cancellation_reason"`
	Created            int64  `json:"created"`
}

// errorResponse is the wire shape of an API error.
type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

// Client talks to the payment-intents API over HTTP.
type Client struct {
	httpClient *http.Client
	apiBaseURL string
	apiKey     string
	retry      *policy.RetryPolicy
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a Client. A nil http client gets a tuned default; an
// empty baseURL means the public API endpoint.
func NewClient(httpClient *http.Client, baseURL, apiKey string) (*Client, error) {
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		}
		httpClient = &http.Client{Timeout: 10 * time.Second, Transport: transport}
	}
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	retry, err := policy.NewRetryPolicy(policy.DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}
	return &Client{
		httpClient: httpClient,
		apiBaseURL: baseURL,
		apiKey:     apiKey,
		retry:      retry,
		breaker:    circuitbreaker.New(),
	}, nil
}

// CreateIntent registers a new payment intent with the processor, passing
// the caller's idempotency key through unchanged.
func (c *Client) CreateIntent(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	return c.do(ctx, "create", http.MethodPost, "/payment_intents", form, params.IdempotencyKey)
}

// GetIntent fetches the current processor-side state of an intent.
func (c *Client) GetIntent(ctx context.Context, id string) (adapter.Intent, error) {
	return c.do(ctx, "get", http.MethodGet, "/payment_intents/"+id, nil, "")
}

// AttachPaymentMethod sets the instrument the intent will be confirmed with.
func (c *Client) AttachPaymentMethod(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
	form := url.Values{}
	form.Set("payment_method", methodRef)
	return c.do(ctx, "attach_method", http.MethodPost, "/payment_intents/"+id, form, "")
}

// ConfirmIntent confirms the intent with the given instrument. A refused
// charge comes back as *adapter.DeclineError.
func (c *Client) ConfirmIntent(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
	form := url.Values{}
	form.Set("payment_method", methodRef)
	return c.do(ctx, "confirm", http.MethodPost, "/payment_intents/"+id+"/confirm", form, "")
}

// CaptureIntent captures a pre-authorized intent.
func (c *Client) CaptureIntent(ctx context.Context, id string) (adapter.Intent, error) {
	return c.do(ctx, "capture", http.MethodPost, "/payment_intents/"+id+"/capture", url.Values{}, "")
}

// CancelIntent cancels the intent.
func (c *Client) CancelIntent(ctx context.Context, id string) (adapter.Intent, error) {
	return c.do(ctx, "cancel", http.MethodPost, "/payment_intents/"+id+"/cancel", url.Values{}, "")
}

// do performs one API call with retry on transient failures. The breaker is
// consulted once per call, not per attempt.
func (c *Client) do(ctx context.Context, operation, method, path string, form url.Values, idempotencyKey string) (adapter.Intent, error) {
	if !c.breaker.Allow() {
		return adapter.Intent{}, fmt.Errorf("%w: circuit open", adapter.ErrUnavailable)
	}

	start := time.Now()
	defer func() {
		metrics.ProcessorRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := c.roundTrip(ctx, method, path, form, idempotencyKey)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
			if c.retry.ShouldRetry(attempt, 0, true) {
				if err := sleep(ctx, retryDelay); err != nil {
					break
				}
				continue
			}
			break
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: reading response: %v", adapter.ErrUnavailable, readErr)
			break
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%w: processor returned HTTP %d", adapter.ErrUnavailable, resp.StatusCode)
			if c.retry.ShouldRetry(attempt, resp.StatusCode, false) {
				log.Warn().Str("operation", operation).Int("attempt", attempt).Int("status", resp.StatusCode).Msg("retrying processor call")
				if err := sleep(ctx, retryDelay); err != nil {
					break
				}
				continue
			}
			break
		}

		// The processor is reachable; whatever it says now is an answer,
		// not an outage.
		c.breaker.RecordSuccess()

		if resp.StatusCode >= http.StatusBadRequest {
			return adapter.Intent{}, parseAPIError(raw, resp.StatusCode)
		}
		return parseIntent(raw)
	}

	c.breaker.RecordFailure()
	return adapter.Intent{}, lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.httpClient.Do(req)
}

// parseAPIError distinguishes a refused charge from any other rejection.
func parseAPIError(raw []byte, statusCode int) error {
	var apiErr errorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		if statusCode == http.StatusPaymentRequired || apiErr.Error.Type == "card_error" {
			code := apiErr.Error.Code
			if apiErr.Error.DeclineCode != "" {
				code = apiErr.Error.DeclineCode
			}
			return &adapter.DeclineError{Code: code, Message: apiErr.Error.Message}
		}
		return fmt.Errorf("%w: processor rejected request with HTTP %d: %s", adapter.ErrUnavailable, statusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("%w: processor rejected request with HTTP %d", adapter.ErrUnavailable, statusCode)
}

func parseIntent(raw []byte) (adapter.Intent, error) {
	var ir intentResponse
	if err := json.Unmarshal(raw, &ir); err != nil {
		return adapter.Intent{}, fmt.Errorf("%w: decoding response: %v", adapter.ErrUnavailable, err)
	}
	return adapter.Intent{
		ID:                 ir.ID,
		Status:             ir.Status,
		AmountMinor:        ir.Amount,
		Currency:           ir.Currency,
		CancellationReason: ir.CancellationReason,
		Created:            time.Unix(ir.Created, 0).UTC(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
