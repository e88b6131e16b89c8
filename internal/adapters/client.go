// Package adapters implements the external data collaborators the engine
// consumes as plain values: exchange candle/price fetchers and the sentiment
// provider.
//
// Every adapter call is bounded: per-request timeout, bounded retry with
// exponential backoff, and a per-venue rate limiter. Once retries are
// exhausted the caller degrades to its documented neutral default (empty
// candles, zero sentiment, venue excluded from the scan); adapter failures
// never become hard failures of the decision pipeline.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"sentinelsniper/internal/metrics"
)

// Client is the shared HTTP client for all data adapters.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	metrics    *metrics.Metrics
}

// ClientConfig configures the shared adapter client.
type ClientConfig struct {
	RequestTimeout time.Duration // per attempt; default 10s
	MaxRetries     int           // retries after the first attempt; default 2
	RatePerSec     float64       // outbound request budget; default 8/s
}

// NewClient creates a Client. m may be nil (no instrumentation).
func NewClient(cfg ClientConfig, m *metrics.Metrics) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 8
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)+1),
		maxRetries: uint64(cfg.MaxRetries),
		metrics:    m,
	}
}

// getJSON fetches url and decodes the JSON body into out, retrying transient
// failures with exponential backoff. 4xx responses other than 429 are
// permanent and not retried.
func (c *Client) getJSON(ctx context.Context, adapter, url string, out any) error {
	attempt := 0
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > 1 && c.metrics != nil {
			c.metrics.AdapterRetries.WithLabelValues(adapter).Inc()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("%s: unexpected status %d", adapter, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode: %w", adapter, err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// postJSON posts body as JSON to url and decodes the response into out, with
// the same retry policy as getJSON.
func (c *Client) postJSON(ctx context.Context, adapter, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", adapter, err)
	}

	attempt := 0
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > 1 && c.metrics != nil {
			c.metrics.AdapterRetries.WithLabelValues(adapter).Inc()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("%s: unexpected status %d", adapter, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode: %w", adapter, err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}
