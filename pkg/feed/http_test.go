package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normwatch/normwatch-oss/internal/governance"
	"github.com/normwatch/normwatch-oss/pkg/domain"
)

func TestHTTPFeedSource_FetchesWindow(t *testing.T) {
	var gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","publishedAt":"2026-08-01T00:00:00Z","sourceIdentifier":"BOE-A-2026-1","url":"https://boe.example/1","rawText":"texto"},
			{"id":"2","publishedAt":"2026-08-02T00:00:00Z","rawText":"sin identificador"}
		]`))
	}))
	defer srv.Close()

	s := NewHTTPFeedSource(HTTPConfig{Endpoint: srv.URL})
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)

	pubs, err := s.FetchPublications(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, "2026-08-01", gotFrom)
	assert.Equal(t, "2026-08-07", gotTo)
	// The item without a source identifier is skipped.
	require.Len(t, pubs, 1)
	assert.Equal(t, "BOE-A-2026-1", pubs[0].SourceIdentifier)
}

func TestHTTPFeedSource_ServerErrorIsFeedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPFeedSource(HTTPConfig{Endpoint: srv.URL})
	_, err := s.FetchPublications(context.Background(), time.Now(), time.Now())
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestHTTPFeedSource_ConnectionRefusedIsFeedUnavailable(t *testing.T) {
	s := NewHTTPFeedSource(HTTPConfig{Endpoint: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := s.FetchPublications(context.Background(), time.Now(), time.Now())
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestHTTPFeedSource_BreakerOpensAfterRepeatedOutage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := governance.NewCircuitBreaker(governance.CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour})
	s := NewHTTPFeedSource(HTTPConfig{Endpoint: srv.URL, Breaker: breaker})

	for i := 0; i < 4; i++ {
		_, err := s.FetchPublications(context.Background(), time.Now(), time.Now())
		assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
	}

	// The third and fourth calls were rejected by the breaker without
	// touching the endpoint.
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestStaticFeedSource_WindowFilterAndFailure(t *testing.T) {
	inWindow := domain.Publication{SourceIdentifier: "a", PublishedAt: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)}
	outOfWindow := domain.Publication{SourceIdentifier: "b", PublishedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStaticFeedSource(inWindow, outOfWindow)

	pubs, err := s.FetchPublications(context.Background(),
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "a", pubs[0].SourceIdentifier)

	s.Fail(domain.ErrFeedUnavailable)
	_, err = s.FetchPublications(context.Background(), time.Time{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}
