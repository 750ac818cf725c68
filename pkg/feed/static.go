package feed

import (
	"context"
	"sync"
	"time"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// StaticFeedSource serves a fixed publication set filtered by date window.
// Used in tests and for local development against canned gazette data.
type StaticFeedSource struct {
	mu   sync.RWMutex
	pubs []domain.Publication
	err  error
}

// NewStaticFeedSource creates a static source over the given publications.
func NewStaticFeedSource(pubs ...domain.Publication) *StaticFeedSource {
	return &StaticFeedSource{pubs: pubs}
}

// Add appends publications to the set.
func (s *StaticFeedSource) Add(pubs ...domain.Publication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubs = append(s.pubs, pubs...)
}

// Fail makes subsequent fetches return err (nil restores normal behavior).
func (s *StaticFeedSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchPublications returns publications whose PublishedAt falls inside
// [from, to].
func (s *StaticFeedSource) FetchPublications(_ context.Context, from, to time.Time) ([]domain.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Publication
	for _, p := range s.pubs {
		if p.PublishedAt.Before(from) || p.PublishedAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
