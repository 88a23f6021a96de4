// Package fetch retrieves ICS sources over HTTP with conditional requests,
// bounded retries, and an SSRF guard at both URL and dial time.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.dny.dev/ssrf"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
)

// maxBodyBytes caps a single feed download. Anything larger than this is not
// a calendar anybody asks a voice assistant about.
const maxBodyBytes = 10 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Result is the outcome of fetching one source. On a 304 the prior
// validators are echoed back and Body stays nil; the caller reuses its cached
// parse.
type Result struct {
	Success      bool
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
	ErrorMessage string
	Attempts     int
}

// Fetcher issues the HTTP requests. Safe for concurrent use across sources.
type Fetcher struct {
	cfg    config.FetchConfig
	client *http.Client
	clock  clockwork.Clock
	logger zerolog.Logger
}

func New(cfg config.FetchConfig, clock clockwork.Clock, logger zerolog.Logger) *Fetcher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !cfg.AllowPrivateNetworks {
		// Blocks loopback, RFC 1918, link-local, and the other special-purpose
		// ranges at connect time, after DNS resolution.
		dialer.Control = ssrf.New().Safe
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		clock:  clock,
		logger: logger,
	}
}

// ValidateURL is the request-time SSRF guard: only absolute http/https URLs
// with a host pass. Rejection is terminal, never retried.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid source url: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("refusing scheme %q", scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("source url has no host")
	}
	return nil
}

// Fetch retrieves one source, retrying transient failures with exponential
// backoff and jitter. etag and lastModified are the validators from the last
// successful fetch; empty strings skip the conditional headers.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, etag, lastModified string) *Result {
	res := &Result{ETag: etag, LastModified: lastModified}

	if err := ValidateURL(rawURL); err != nil {
		res.ErrorMessage = err.Error()
		f.logger.Error().
			Str("tag", "SECURITY").
			Str("source_url", rawURL).
			Str("reason", err.Error()).
			Msg("source url rejected")
		return res
	}

	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		status, body, newETag, newLM, err := f.attempt(ctx, rawURL, etag, lastModified)
		res.StatusCode = status

		retryable := false
		corrupted := false
		switch {
		case err != nil:
			res.ErrorMessage = fmt.Sprintf("request failed: %v", err)
			retryable = true
		case status == http.StatusNotModified:
			res.Success = true
			res.NotModified = true
			return res
		case status == http.StatusOK:
			if !looksLikeCalendar(body) {
				res.ErrorMessage = "response body is not a calendar"
				retryable = true
				corrupted = true
				break
			}
			res.Success = true
			res.Body = body
			if newETag != "" {
				res.ETag = newETag
			}
			if newLM != "" {
				res.LastModified = newLM
			}
			return res
		case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
			res.ErrorMessage = fmt.Sprintf("server returned %d", status)
			retryable = true
		default:
			// Remaining 4xx and anything else unexpected is terminal.
			res.ErrorMessage = fmt.Sprintf("server returned %d", status)
		}

		if !retryable || attempt == f.cfg.MaxRetries-1 {
			break
		}
		delay := f.backoff(attempt, corrupted)
		f.logger.Warn().
			Str("source_url", rawURL).
			Int("attempt", res.Attempts).
			Dur("backoff", delay).
			Str("reason", res.ErrorMessage).
			Msg("fetch attempt failed, retrying")
		if err := f.sleep(ctx, delay); err != nil {
			res.ErrorMessage = fmt.Sprintf("fetch aborted: %v", err)
			return res
		}
	}

	f.logger.Error().
		Str("source_url", rawURL).
		Int("attempts", res.Attempts).
		Str("reason", res.ErrorMessage).
		Msg("fetch failed")
	return res
}

func (f *Fetcher) attempt(ctx context.Context, rawURL, etag, lastModified string) (int, []byte, string, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, "", "", err
	}
	req.Header.Set("Accept", "text/calendar, */*")
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return resp.StatusCode, nil, "", "", err
	}
	if len(body) > maxBodyBytes {
		return resp.StatusCode, nil, "", "", fmt.Errorf("response exceeds %d bytes", maxBodyBytes)
	}
	return resp.StatusCode, body, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

// backoff computes the sleep before the next attempt:
// base * 2^attempt * factor plus uniform jitter, never above MaxBackoff.
// Corrupted responses jump straight to the cap; hammering a source that is
// serving garbage does not help it recover.
func (f *Fetcher) backoff(attempt int, corrupted bool) time.Duration {
	if corrupted {
		return f.cfg.MaxBackoff
	}
	base := float64(f.cfg.BackoffBase)
	d := time.Duration(base * math.Pow(2, float64(attempt)) * f.cfg.BackoffFactor)
	d += time.Duration(rand.Float64() * f.cfg.JitterMaxFactor * base)
	if d > f.cfg.MaxBackoff {
		d = f.cfg.MaxBackoff
	}
	return d
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-f.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// looksLikeCalendar rejects empty or clearly non-ICS bodies before they ever
// reach the parser. A BOM or leading whitespace is tolerated.
func looksLikeCalendar(body []byte) bool {
	trimmed := bytes.TrimPrefix(body, utf8BOM)
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("BEGIN:VCALENDAR"))
}
