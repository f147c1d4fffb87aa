package nws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/lox/nwsannounce/internal/httputil"
	"github.com/lox/nwsannounce/internal/metrics"
)

const (
	DefaultBaseURL    = "https://api.weather.gov"
	DefaultRetryDelay = 2 * time.Second

	acceptGeoJSON = "application/geo+json"
	acceptAtom    = "application/atom+xml"
)

type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration // per request
	RetryDelay time.Duration
}

// PayloadSink receives every successfully fetched response body.
type PayloadSink func(endpoint string, body []byte)

// Client talks to api.weather.gov. Every call is bounded by its own timeout
// and retried at most once after a fixed delay.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retryDelay time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	payloads   PayloadSink
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httputil.NewClient(cfg.Timeout, cfg.UserAgent),
		baseURL:    cfg.BaseURL,
		retryDelay: cfg.RetryDelay,
		clock:      clockwork.NewRealClock(),
		logger:     logger.With("component", "nws"),
	}
}

// SetClock replaces the clock used to stamp fetched snapshots.
func (c *Client) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// SetPayloadSink configures the client to hand raw response bodies to sink.
func (c *Client) SetPayloadSink(sink PayloadSink) {
	c.payloads = sink
}

func (c *Client) get(ctx context.Context, endpoint, url, accept string) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.NWSAPIRetries.WithLabelValues(endpoint).Inc()
			c.logger.Info("retrying request", "endpoint", endpoint, "url", url)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", accept)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.NWSAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			nerr := classifyTransport(url, err)
			if ctx.Err() != nil {
				return backoff.Permanent(nerr)
			}
			return nerr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			nerr := &NetworkError{
				Kind:       NetworkHTTPStatus,
				StatusCode: resp.StatusCode,
				URL:        url,
				Err:        fmt.Errorf("status %d: %s", resp.StatusCode, string(b)),
			}
			if retryableStatus(resp.StatusCode) {
				return nerr
			}
			return backoff.Permanent(nerr)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return classifyTransport(url, fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			metrics.NWSAPICallsTotal.WithLabelValues(endpoint, "canceled").Inc()
			return nil, fmt.Errorf("GET %s: %w", url, ctx.Err())
		}
		nerr := classifyTransport(url, err)
		status := nerr.Kind.String()
		if nerr.Kind == NetworkHTTPStatus {
			status = strconv.Itoa(nerr.StatusCode)
		}
		metrics.NWSAPICallsTotal.WithLabelValues(endpoint, status).Inc()
		return nil, nerr
	}

	metrics.NWSAPICallsTotal.WithLabelValues(endpoint, "ok").Inc()
	if c.payloads != nil {
		c.payloads(endpoint, body)
	}
	return body, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
