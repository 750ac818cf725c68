// Package feed provides FeedSource implementations: an HTTP client for a
// JSON publication feed and a static in-memory source for tests and local
// development.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/normwatch/normwatch-oss/internal/governance"
	"github.com/normwatch/normwatch-oss/pkg/domain"
)

const defaultFetchTimeout = 30 * time.Second

// HTTPConfig holds settings for the HTTP feed source.
type HTTPConfig struct {
	// Endpoint is the feed URL; the date window is passed as from/to query
	// parameters in RFC 3339 date form.
	Endpoint string
	Timeout  time.Duration
	// Breaker guards the endpoint against repeated outages. Optional.
	Breaker *governance.CircuitBreaker
	Client  *http.Client
	Logger  *slog.Logger
}

// HTTPFeedSource fetches publications from a JSON feed endpoint. Transport
// and server failures are wrapped as domain.ErrFeedUnavailable so the
// scheduler can apply its short-delay retry.
type HTTPFeedSource struct {
	endpoint string
	client   *http.Client
	breaker  *governance.CircuitBreaker
	logger   *slog.Logger
}

type feedItem struct {
	ID               string    `json:"id"`
	PublishedAt      time.Time `json:"publishedAt"`
	SourceIdentifier string    `json:"sourceIdentifier"`
	URL              string    `json:"url"`
	RawText          string    `json:"rawText"`
}

// NewHTTPFeedSource creates an HTTP feed source.
func NewHTTPFeedSource(cfg HTTPConfig) *HTTPFeedSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFeedSource{
		endpoint: cfg.Endpoint,
		client:   client,
		breaker:  cfg.Breaker,
		logger:   logger,
	}
}

// FetchPublications retrieves the publications for the given window.
func (s *HTTPFeedSource) FetchPublications(ctx context.Context, from, to time.Time) ([]domain.Publication, error) {
	var pubs []domain.Publication
	fetch := func(ctx context.Context) error {
		var err error
		pubs, err = s.fetch(ctx, from, to)
		return err
	}

	if s.breaker != nil {
		if err := s.breaker.Execute(ctx, fetch); err != nil {
			if errors.Is(err, governance.ErrCircuitOpen) {
				return nil, fmt.Errorf("%w: circuit open", domain.ErrFeedUnavailable)
			}
			return nil, err
		}
		return pubs, nil
	}
	if err := fetch(ctx); err != nil {
		return nil, err
	}
	return pubs, nil
}

func (s *HTTPFeedSource) fetch(ctx context.Context, from, to time.Time) ([]domain.Publication, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid feed endpoint %s: %w", s.endpoint, err)
	}
	q := u.Query()
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: feed returned %d", domain.ErrFeedUnavailable, resp.StatusCode)
	}

	var items []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode feed response: %v", domain.ErrFeedUnavailable, err)
	}

	pubs := make([]domain.Publication, 0, len(items))
	for _, it := range items {
		if it.SourceIdentifier == "" {
			s.logger.Warn("skipping feed item without source identifier", "item_id", it.ID)
			continue
		}
		pubs = append(pubs, domain.Publication{
			ID:               it.ID,
			PublishedAt:      it.PublishedAt,
			SourceIdentifier: it.SourceIdentifier,
			URL:              it.URL,
			RawText:          it.RawText,
		})
	}
	return pubs, nil
}
