// Package fetch retrieves catalog pages over HTTP with retries, TLS options and
// politeness controls. Bodies are always returned as valid UTF-8.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
)

// Default request identity.
const (
	DefaultUserAgent      = "Mozilla/5.0 (compatible; galileocat-webtool/1.0; +https://bangumi.tv)"
	DefaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
)

// DefaultBackoff yields three attempts in total.
var DefaultBackoff = []time.Duration{500 * time.Millisecond, time.Second}

// Config controls the fetch client.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	// AttemptTimeout bounds the wait for response headers on each attempt.
	AttemptTimeout time.Duration
	// RequestBudget bounds one Fetch call across all attempts.
	RequestBudget time.Duration
	// Backoff holds the delay before each retry; its length is the retry count.
	Backoff []time.Duration
	// MaxBackoff caps delays taken from Retry-After.
	MaxBackoff time.Duration
	// SkipTLSVerify disables certificate checks unless CABundle is set.
	SkipTLSVerify bool
	// CABundle is a PEM file used as the root pool.
	CABundle     string
	MaxBodyBytes int
	Breaker      BreakerConfig
}

// BreakerConfig enables fail-fast after consecutive failed fetches.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	Cooldown         time.Duration
}

// Waiter gates requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter installs a politeness limiter consulted once per Fetch.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client fetches pages with a fresh collector per call sharing one connection pool.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Waiter
	breaker   *gobreaker.CircuitBreaker[string]
	logger    *zap.Logger
}

// New builds a Client, filling zero config fields with defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = withDefaults(cfg)
	tlsCfg, err := newTLSConfig(!cfg.SkipTLSVerify, cfg.CABundle)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:       cfg,
		transport: newHTTPTransport(tlsCfg, cfg.AttemptTimeout),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, c.logger)
	}
	return c, nil
}

func withDefaults(cfg Config) Config {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.RequestBudget <= 0 {
		cfg.RequestBudget = time.Duration(len(cfg.Backoff)+1)*cfg.AttemptTimeout + 15*time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker.Cooldown = time.Minute
	}
	return cfg
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[string] {
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "fetch",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Fetch GETs rawURL and returns the body as UTF-8 text. Failures after the
// final attempt are reported as *Error.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, error) {
	if c.breaker == nil {
		return c.fetch(ctx, rawURL)
	}
	body, err := c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ObserveFetch(rawURL, "circuit_open", 0)
		return "", fmt.Errorf("fetch %s: %w", rawURL, ErrCircuitOpen)
	}
	return body, err
}

func (c *Client) fetch(ctx context.Context, rawURL string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return "", &Error{URL: rawURL, Err: err}
		}
	}

	rt := &retryTransport{
		ctx:        ctx,
		base:       c.transport,
		backoff:    c.cfg.Backoff,
		maxBackoff: c.cfg.MaxBackoff,
		logger:     c.logger,
	}
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := c.buildCollector(rt, &body, &status, &fetchErr)

	start := time.Now()
	err := runCollector(ctx, collector, rawURL, &fetchErr)
	attempts := int(rt.attempts.Load())
	if err != nil {
		metrics.ObserveFetch(rawURL, "error", 0)
		c.logger.Warn("fetch failed",
			zap.String("url", rawURL),
			zap.Int("status", status),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return "", &Error{URL: rawURL, StatusCode: status, Attempts: attempts, Err: err}
	}
	metrics.ObserveFetch(rawURL, "ok", len(body))
	c.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return strings.ToValidUTF8(string(body), ""), nil
}

// buildCollector creates a collector per call. Clones share the HTTP backend,
// so a clone cannot carry its own transport or timeout.
func (c *Client) buildCollector(rt http.RoundTripper, body *[]byte, status *int, fetchErr *error) *colly.Collector {
	collector := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(c.cfg.MaxBodyBytes),
	)
	collector.DetectCharset = false
	collector.WithTransport(rt)
	collector.SetRequestTimeout(c.cfg.RequestBudget)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", c.cfg.AcceptLanguage)
	})
	collector.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

// runCollector waits for Visit to return even after ctx ends, so the collector
// callbacks never outlive the fetch. Every attempt carries ctx, which bounds
// the wait.
func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	var err error
	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err = <-done:
	}
	if err != nil {
		return fmt.Errorf("visit: %w", err)
	}
	if *fetchErr != nil {
		return fmt.Errorf("response: %w", *fetchErr)
	}
	return nil
}
