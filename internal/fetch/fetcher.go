// Package fetch downloads individual video segments with bounded retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"puja-player/internal/blob"
	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 15 * time.Second
	DefaultBaseDelay      = 500 * time.Millisecond

	// BackoffMultiplier is the growth factor between retry delays.
	BackoffMultiplier = 1.8
	// BackoffJitter is the randomization factor applied to each delay.
	BackoffJitter = 0.1
)

var (
	// ErrDownloadBlocked means the host refused the segment (400/401/403/404)
	// or answered with an HTML page. It is never retried.
	ErrDownloadBlocked = errors.New("segment download blocked")

	// ErrDownloadTimeout means the final attempt ran out of time.
	ErrDownloadTimeout = errors.New("segment download timed out")

	// ErrDownloadExhausted means every attempt failed with a transient error.
	ErrDownloadExhausted = errors.New("segment download failed after retries")
)

// Config tunes a Fetcher. Zero values select the defaults.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	UserAgent      string
}

// Fetcher downloads segments over HTTP.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
	met    *metrics.Metrics
	cfg    Config
}

// New creates a Fetcher. A nil client means http.DefaultClient.
func New(client *http.Client, log *slog.Logger, m *metrics.Metrics, cfg Config) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	return &Fetcher{
		client: client,
		log:    logger.OrDiscard(log).With("component", "fetch"),
		met:    m,
		cfg:    cfg,
	}
}

// attemptError carries the classification of one failed attempt.
type attemptError struct {
	err     error
	timeout bool
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Download fetches url and returns its body as a video blob. Bodies not typed
// video/* are re-typed video/mp4.
func (f *Fetcher) Download(ctx context.Context, url string) (*blob.Blob, error) {
	attempt := 0
	var last *attemptError

	op := func() (*blob.Blob, error) {
		attempt++
		if attempt > 1 {
			f.met.IncDownloadRetry()
		}
		b, err := f.attempt(ctx, url, attempt)
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrDownloadBlocked) {
			return nil, backoff.Permanent(err)
		}
		errors.As(err, &last)
		return nil, err
	}

	b, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(f.newBackOff()),
		backoff.WithMaxTries(uint(f.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			f.log.Warn("segment download attempt failed, retrying",
				"url", redact(url), "attempt", attempt, "max_attempts", f.cfg.MaxAttempts,
				"retry_in", d.Round(time.Millisecond), "error", err)
		}),
	)
	if err == nil {
		f.met.IncDownload(metrics.OutcomeSuccess)
		f.met.AddDownloadBytes(b.Size())
		f.log.Debug("segment downloaded", "url", redact(url), "attempts", attempt, "size", b.Size(), "type", b.Type())
		return b, nil
	}

	switch {
	case ctx.Err() != nil:
		f.met.IncDownload(metrics.OutcomeCanceled)
		return nil, ctx.Err()
	case errors.Is(err, ErrDownloadBlocked):
		f.met.IncDownload(metrics.OutcomeBlocked)
		f.log.Error("segment download blocked", "url", redact(url), "error", err)
		return nil, err
	case last != nil && last.timeout:
		f.met.IncDownload(metrics.OutcomeTimeout)
		f.log.Error("segment download timed out", "url", redact(url), "attempts", attempt)
		return nil, fmt.Errorf("%w after %d attempts of %s", ErrDownloadTimeout, attempt, f.cfg.AttemptTimeout)
	default:
		f.met.IncDownload(metrics.OutcomeExhausted)
		f.log.Error("segment download failed", "url", redact(url), "attempts", attempt, "error", err)
		return nil, fmt.Errorf("%w (%d attempts): %w", ErrDownloadExhausted, attempt, err)
	}
}

func (f *Fetcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.BaseDelay
	b.Multiplier = BackoffMultiplier
	b.RandomizationFactor = BackoffJitter
	b.MaxInterval = time.Duration(float64(f.cfg.BaseDelay) * 20)
	return b
}

// attempt performs one bounded request.
func (f *Fetcher) attempt(parent context.Context, url string, n int) (*blob.Blob, error) {
	ctx, cancel := context.WithTimeout(parent, f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid segment url: %v", ErrDownloadBlocked, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	f.log.Debug("downloading segment", "url", redact(url), "attempt", n, "max_attempts", f.cfg.MaxAttempts)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, parent, fmt.Errorf("attempt %d: %w", n, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d from %s; make sure the video is publicly accessible",
			ErrDownloadBlocked, resp.StatusCode, redact(url))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &attemptError{err: fmt.Errorf("attempt %d: HTTP %d", n, resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/html" {
		return nil, fmt.Errorf("%w: %s returned an HTML page instead of video; make sure the video is publicly accessible",
			ErrDownloadBlocked, redact(url))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, parent, fmt.Errorf("attempt %d: read body: %w", n, err))
	}
	if mediaType == "" {
		mediaType = contentType
	}
	return blob.New(data, mediaType).AsVideo(), nil
}

// classify marks errors caused by the attempt deadline as timeouts.
func classify(attemptCtx, parent context.Context, err error) error {
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	return &attemptError{err: err, timeout: timedOut}
}

// redact drops the query string, which usually carries a signature.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i] + "?…"
	}
	return url
}
