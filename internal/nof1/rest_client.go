package nof1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"alpha-arena-prompt/internal/config"
	"alpha-arena-prompt/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tradesPath = "/trades"

var (
	// ErrUpstreamUnavailable covers network failures, timeouts and non-2xx answers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse is returned when the body is not the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// StatusError is returned for a non-2xx upstream answer.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamUnavailable
}

// ClientInterface defines the read-only view of the nof1 REST API the poller needs.
type ClientInterface interface {
	FetchTrades(ctx context.Context, limit int) ([]models.Trade, error)
}

// Client is a client for the nof1 public REST API.
// It implements the ClientInterface.
type Client struct {
	client        *resty.Client
	logger        *zap.Logger
	limiter       *rate.Limiter
	fallbackLimit int
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new nof1 REST API client.
func NewClient(cfg *config.Upstream, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout()).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	logger = logger.Named("nof1")
	logger.Info("Using nof1 API", zap.String("base_url", cfg.BaseURL), zap.Duration("timeout", cfg.Timeout()))

	return &Client{
		client:        client,
		logger:        logger,
		limiter:       limiter,
		fallbackLimit: cfg.FallbackLimit,
	}
}

// FetchTrades fetches the trade list. limit <= 0 omits the limit parameter.
//
// The upstream answers 410 Gone when limit is above an undocumented
// threshold; in that case the request is repeated once with the configured
// fallback limit.
func (c *Client) FetchTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	body, err := c.getTrades(ctx, limit)
	if err != nil && c.shouldFallback(err, limit) {
		c.logger.Warn("Upstream rejected trade limit, retrying with fallback",
			zap.Int("limit", limit),
			zap.Int("fallback_limit", c.fallbackLimit),
		)
		body, err = c.getTrades(ctx, c.fallbackLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}

	trades, skipped, err := decodeTrades(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	if skipped > 0 {
		c.logger.Warn("Skipped unusable trade records", zap.Int("skipped", skipped))
	}
	c.logger.Debug("Fetched trades", zap.Int("count", len(trades)))
	return trades, nil
}

func (c *Client) shouldFallback(err error, limit int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusGone {
		return false
	}
	if limit <= 0 {
		return false
	}
	return c.fallbackLimit == 0 || limit > c.fallbackLimit
}

func (c *Client) getTrades(ctx context.Context, limit int) ([]byte, error) {
	req := c.client.R()
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, tradesPath, req)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// doRequest executes a single rate-limited request. It never retries.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter wait failed: %w", ErrUpstreamUnavailable, err)
	}

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StatusError{StatusCode: code, Status: resp.Status()}
	}
	return resp, nil
}
