package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/GBR24/kolmo-mvp/internal/config"
)

var ErrCircuitOpen = errors.New("upstream circuit breaker open")

type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s api: %d", e.Provider, e.Status)
}

func (e *UpstreamError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openedAt  time.Time
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

func (c *circuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < c.threshold {
		return true
	}
	if time.Since(c.openedAt) > c.cooldown {
		c.failures = 0
		c.openedAt = time.Time{}
		return true
	}
	return false
}

func (c *circuitBreaker) success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openedAt = time.Time{}
}

func (c *circuitBreaker) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openedAt = time.Now()
	}
}

// UpstreamClient is the shared JSON-over-HTTP client for provider calls:
// rate limited, retried with exponential backoff, guarded by a breaker.
type UpstreamClient struct {
	name       string
	hc         *http.Client
	limiter    *rate.Limiter
	cb         *circuitBreaker
	maxRetries uint64
	maxElapsed time.Duration
	logger     zerolog.Logger
}

func NewUpstreamClient(name string, cfg config.Config) *UpstreamClient {
	rps := cfg.ProviderRPS
	if rps <= 0 {
		rps = 5
	}
	retries := cfg.ProviderRetries
	if retries < 0 {
		retries = 0
	}
	return &UpstreamClient{
		name: name,
		hc: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		cb:         newCircuitBreaker(cfg.CircuitFailLimit, cfg.CircuitCooldown),
		maxRetries: uint64(retries),
		maxElapsed: cfg.RequestTimeout,
		logger:     log.With().Str("component", "upstream").Str("provider", name).Logger(),
	}
}

func (c *UpstreamClient) Name() string {
	return c.name
}

func (c *UpstreamClient) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, headers, out)
}

func (c *UpstreamClient) PostJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, url, payload, headers, out)
}

func (c *UpstreamClient) do(ctx context.Context, method, url string, payload []byte, headers map[string]string, out any) error {
	if !c.cb.allow() {
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		res, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer res.Body.Close()

		if res.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			upErr := &UpstreamError{Provider: c.name, Status: res.StatusCode, Body: string(b)}
			if !upErr.retryable() {
				return backoff.Permanent(upErr)
			}
			return upErr
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%s: decode: %w", c.name, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	if c.maxElapsed > 0 {
		b.MaxElapsedTime = c.maxElapsed
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
	if err != nil {
		var upErr *UpstreamError
		switch {
		case ctx.Err() != nil:
		case errors.As(err, &upErr) && !upErr.retryable():
		default:
			c.cb.fail()
		}
		c.logger.Warn().Err(err).Str("method", method).Int("attempts", attempt).Msg("upstream call failed")
		return err
	}
	c.cb.success()
	return nil
}
