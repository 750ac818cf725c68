package classify

import (
	"strings"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// Filter discards publications with no domain keyword match. The keyword set
// is injected at construction and matched case-insensitively.
type Filter struct {
	keywords []string
}

// NewFilter creates a relevance filter for the given keyword set. Keywords
// are lowercased once up front.
func NewFilter(keywords []string) *Filter {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Filter{keywords: lowered}
}

// Relevant reports whether the publication text contains at least one
// configured keyword.
func (f *Filter) Relevant(pub domain.Publication) bool {
	text := strings.ToLower(pub.RawText)
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
