package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
)

// BreakerName labels the playback API circuit breaker in metrics and logs.
const BreakerName = "playback-api"

// HTTPSourceConfig configures an HTTPSource.
type HTTPSourceConfig struct {
	// BaseURL is the playback API root, e.g. https://api.example.com/v1.
	BaseURL string

	// Timeout bounds one request. Defaults to 10s.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	// Defaults to 30s.
	OpenTimeout time.Duration
}

// HTTPSource reads playback records from GET {base}/bookings/{id}/playback.
type HTTPSource struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Record]
	log     *slog.Logger
}

// NewHTTPSource builds an HTTPSource. A nil client means http.DefaultClient.
func NewHTTPSource(cfg HTTPSourceConfig, client *http.Client, log *slog.Logger, m *metrics.Metrics) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	s := &HTTPSource{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{Transport: client.Transport, Timeout: cfg.Timeout},
		log:    logger.OrDiscard(log).With("component", "playback", "source", "http"),
	}

	s.breaker = gobreaker.NewCircuitBreaker[*Record](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A booking without playback is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPlaybackNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(name, int(to))
		},
	})
	m.SetBreakerState(BreakerName, int(gobreaker.StateClosed))
	return s
}

// FetchByBooking implements Source.
func (s *HTTPSource) FetchByBooking(ctx context.Context, bookingID string) (*Record, error) {
	rec, err := s.breaker.Execute(func() (*Record, error) {
		return s.fetch(ctx, bookingID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("playback api unavailable: %w", err)
	}
	return rec, err
}

// State reports the breaker state.
func (s *HTTPSource) State() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSource) fetch(ctx context.Context, bookingID string) (*Record, error) {
	endpoint := s.base + "/bookings/" + url.PathEscape(bookingID) + "/playback"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build playback request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("playback request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ErrPlaybackNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("playback api returned HTTP %d", resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode playback record: %w", err)
	}
	if rec.ID == "" {
		return nil, ErrPlaybackNotFound
	}
	return &rec, nil
}
