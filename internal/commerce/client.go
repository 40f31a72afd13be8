package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/models"
)

// Rate limit headers returned by the commerce platform.
const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// APIError carries the downstream status so callers can tell transient
// failures (retry) from permanent ones (fail fast).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce api: %s (status %d)", e.Message, e.Status)
}

// Transient reports whether the failure is worth retrying.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsTransient classifies an error from the client. Network-level errors
// (no APIError in the chain) count as transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the downstream commerce platform. Every response's rate
// limit headers are fed into the quota sink so the limiter tracks the
// provider's real budget.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	quota   domain.QuotaSink
	log     zerolog.Logger
}

func NewClient(cfg Config, quota domain.QuotaSink, logger *zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "commerce").Logger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		quota:   quota,
		log:     log,
	}
}

// CreateOrder pushes one order to the platform and returns its id.
func (c *Client) CreateOrder(ctx context.Context, payload *models.OrderPayload) (*models.Order, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create order %s: %w", payload.OrderNumber, err)
	}
	defer resp.Body.Close()

	c.reportQuota(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if order.ID == "" {
		return nil, &APIError{Status: resp.StatusCode, Message: "response missing order id"}
	}

	c.log.Debug().
		Str("order_number", payload.OrderNumber).
		Str("order_id", order.ID).
		Msg("order created downstream")
	return &order, nil
}

// reportQuota parses the rate limit headers and forwards them. Missing or
// malformed headers are ignored.
func (c *Client) reportQuota(resp *http.Response) {
	if c.quota == nil {
		return
	}

	remainingRaw := resp.Header.Get(headerRateLimitRemaining)
	limitRaw := resp.Header.Get(headerRateLimitLimit)
	if remainingRaw == "" || limitRaw == "" {
		return
	}

	remaining, err := strconv.ParseUint(remainingRaw, 10, 32)
	if err != nil {
		return
	}
	limit, err := strconv.ParseUint(limitRaw, 10, 32)
	if err != nil {
		return
	}
	c.quota.ReportQuota(uint(remaining), uint(limit))

	if resetRaw := resp.Header.Get(headerRateLimitReset); resetRaw != "" {
		if resetUnix, err := strconv.ParseInt(resetRaw, 10, 64); err == nil && resetUnix > 0 {
			c.quota.ReportReset(time.Unix(resetUnix, 0))
		}
	}
}

func (c *Client) decodeError(resp *http.Response) error {
	var apiResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := http.StatusText(resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err == nil {
		if apiResp.Error != "" {
			message = apiResp.Error
		} else if apiResp.Message != "" {
			message = apiResp.Message
		}
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
