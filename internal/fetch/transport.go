package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// SSLVerifyEnabled interprets BANGUMI_SSL_VERIFY: 0, false and no disable
// verification, anything else (including empty) keeps it on.
func SSLVerifyEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no":
		return false
	default:
		return true
	}
}

// newTLSConfig builds the client TLS config. A CA bundle takes precedence over
// a disabled verification flag.
func newTLSConfig(verify bool, caBundle string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caBundle != "" {
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s contains no certificates", caBundle)
		}
		cfg.RootCAs = pool
		return cfg, nil
	}
	if !verify {
		cfg.InsecureSkipVerify = true //nolint:gosec // operator opt-out via BANGUMI_SSL_VERIFY
	}
	return cfg, nil
}

// newHTTPTransport never consults proxy environment variables.
func newHTTPTransport(tlsCfg *tls.Config, attemptTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: attemptTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// retryTransport retries GETs on transient failures. One instance serves one
// fetch so that the attempt count and context belong to that fetch.
type retryTransport struct {
	ctx        context.Context
	base       http.RoundTripper
	backoff    []time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
	attempts   atomic.Int32
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	ctx := t.ctx
	if ctx == nil {
		ctx = req.Context()
	}
	maxAttempts := len(t.backoff) + 1
	if req.Method != http.MethodGet {
		maxAttempts = 1
	}
	for attempt := 0; ; attempt++ {
		t.attempts.Add(1)
		resp, err := t.base.RoundTrip(req.Clone(ctx))
		last := attempt == maxAttempts-1
		if err != nil {
			if last || !isTransient(err) || ctx.Err() != nil {
				return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
			}
			t.logRetry(req, attempt, 0, err)
			metrics.ObserveRetry(req.URL.String(), "network")
			if err := sleepWithContext(ctx, t.backoff[attempt]); err != nil {
				return nil, err
			}
			continue
		}
		if !retryableStatus[resp.StatusCode] || last {
			forceUTF8(resp)
			return resp, nil
		}
		delay := t.delayFor(resp, attempt)
		drainAndClose(resp)
		t.logRetry(req, attempt, resp.StatusCode, nil)
		metrics.ObserveRetry(req.URL.String(), strconv.Itoa(resp.StatusCode))
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (t *retryTransport) delayFor(resp *http.Response, attempt int) time.Duration {
	delay := t.backoff[attempt]
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return delay
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs < 0 {
		return delay
	}
	delay = time.Duration(secs) * time.Second
	if t.maxBackoff > 0 && delay > t.maxBackoff {
		delay = t.maxBackoff
	}
	return delay
}

func (t *retryTransport) logRetry(req *http.Request, attempt, status int, err error) {
	if t.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("url", req.URL.String()),
		zap.Int("attempt", attempt+1),
	}
	if status != 0 {
		fields = append(fields, zap.Int("status", status))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	t.logger.Debug("retrying fetch", fields...)
}

// forceUTF8 relabels the body charset so the collector leaves the bytes alone;
// invalid sequences are dropped afterwards.
func forceUTF8(resp *http.Response) {
	ct := resp.Header.Get("Content-Type")
	if ct == "" || !strings.Contains(strings.ToLower(ct), "charset") {
		return
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = "text/html"
	}
	resp.Header.Set("Content-Type", mediaType+"; charset=utf-8")
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "tls: handshake timeout")
}
