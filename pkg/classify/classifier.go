package classify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

var (
	articlePattern = regexp.MustCompile(`art(?:ículos?|s?\.)\s*(\d+(?:\.\d+)?(?:\s+(?:bis|ter|quater))?)`)

	// "vigencia 15/09/2026", "vigencia 15-09-2026"
	numericDatePattern = regexp.MustCompile(`vigencia\s+(?:a\s+partir\s+del?\s+)?(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})`)
	// "vigencia 15 de septiembre de 2026"
	spelledDatePattern = regexp.MustCompile(`vigencia\s+(?:a\s+partir\s+del?\s+)?(\d{1,2})\s+de\s+([a-zñ]+)\s+de\s+(\d{4})`)
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

type compiledPattern struct {
	changeType domain.ChangeType
	re         *regexp.Regexp
}

// Classifier assigns change type, impact tier, urgency, affected domains and
// articles, and effective date to a relevant publication, driven entirely by
// the injected RuleSet.
type Classifier struct {
	rules    RuleSet
	patterns []compiledPattern
	logger   *slog.Logger
}

// NewClassifier compiles the rule table. It fails if any type pattern does
// not compile.
func NewClassifier(rules RuleSet, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rules.MaxArticles <= 0 {
		rules.MaxArticles = 20
	}

	patterns := make([]compiledPattern, 0, len(rules.TypePatterns))
	for _, tp := range rules.TypePatterns {
		re, err := regexp.Compile("(?i)" + tp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern for %s: %w", tp.Type, err)
		}
		patterns = append(patterns, compiledPattern{changeType: tp.Type, re: re})
	}

	return &Classifier{rules: rules, patterns: patterns, logger: logger}, nil
}

// Classify evaluates the ordered pattern rules against the publication and
// returns one RegulatoryChange per matched change type. A publication that
// matches no rule yields an empty slice; that is a drop, not an error.
//
// Classification is deterministic: the same publication text always produces
// the same tiers, flags, domains, and articles.
func (c *Classifier) Classify(pub domain.Publication) []domain.RegulatoryChange {
	text := strings.ToLower(pub.RawText)

	var changes []domain.RegulatoryChange
	for _, p := range c.patterns {
		if !p.re.MatchString(text) {
			continue
		}
		changes = append(changes, domain.RegulatoryChange{
			ID:               domain.ChangeID(pub.SourceIdentifier, p.changeType),
			SourceIdentifier: pub.SourceIdentifier,
			URL:              pub.URL,
			ChangeType:       p.changeType,
			ImpactTier:       c.impactTier(text, p.changeType),
			Urgent:           c.urgent(text),
			AffectedArticles: c.articles(text),
			AffectedDomains:  c.domains(text),
			EffectiveDate:    c.effectiveDate(pub, text),
			DetectedAt:       pub.PublishedAt,
			State:            domain.StateDetected,
		})
	}
	return changes
}

func (c *Classifier) impactTier(text string, changeType domain.ChangeType) domain.ImpactTier {
	for _, kw := range c.rules.CriticalKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return domain.TierCritical
		}
	}
	for _, kw := range c.rules.HighKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return domain.TierHigh
		}
	}
	if tier, ok := c.rules.DefaultTiers[changeType]; ok {
		return tier
	}
	return domain.TierLow
}

func (c *Classifier) urgent(text string) bool {
	for _, kw := range c.rules.UrgencyKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// domains applies the keyword-to-domain lookup. The result is deduplicated
// and ordered by first mapping hit so output is stable across runs.
func (c *Classifier) domains(text string) []domain.Domain {
	seen := make(map[domain.Domain]bool)
	var out []domain.Domain
	for _, dm := range c.rules.DomainMappings {
		if !strings.Contains(text, strings.ToLower(dm.Keyword)) {
			continue
		}
		for _, d := range dm.Domains {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

func (c *Classifier) articles(text string) []string {
	matches := articlePattern.FindAllStringSubmatch(text, c.rules.MaxArticles)
	if matches == nil {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		ref := strings.Join(strings.Fields(m[1]), " ")
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// effectiveDate parses a "vigencia ..." clause. Extraction failure falls
// back to the publication date; classification never aborts on ambiguity.
func (c *Classifier) effectiveDate(pub domain.Publication, text string) time.Time {
	if m := numericDatePattern.FindStringSubmatch(text); m != nil {
		if t, ok := buildDate(m[3], m[2], m[1]); ok {
			return t
		}
		c.logger.Debug("ambiguous effective date, using publication date",
			"publication_id", pub.ID, "clause", m[0])
	}
	if m := spelledDatePattern.FindStringSubmatch(text); m != nil {
		if month, ok := spanishMonths[m[2]]; ok {
			if t, ok := buildDate(m[3], strconv.Itoa(int(month)), m[1]); ok {
				return t
			}
		}
		c.logger.Debug("ambiguous effective date, using publication date",
			"publication_id", pub.ID, "clause", m[0])
	}
	return pub.PublishedAt
}

func buildDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
}
