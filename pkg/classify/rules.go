// Package classify implements the relevance filter and change classifier for
// raw feed publications.
//
// All matching behavior is data-driven: keyword sets, type patterns, tier
// keywords, and the keyword-to-domain map are part of RuleSet, injected at
// construction and loadable from YAML. Nothing here hard-codes the
// compliance vocabulary.
package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// TypePattern maps one regular expression to a change type. Patterns are
// evaluated in order against the lowercased publication text.
type TypePattern struct {
	Type    domain.ChangeType `yaml:"type"`
	Pattern string            `yaml:"pattern"`
}

// DomainMapping associates a trigger keyword with the document domains it
// impacts (many-to-many).
type DomainMapping struct {
	Keyword string          `yaml:"keyword"`
	Domains []domain.Domain `yaml:"domains"`
}

// RuleSet is the full classification rule table. It is configuration, not
// code: operators tune it without a rebuild, and tests construct synthetic
// ones.
type RuleSet struct {
	// RelevanceKeywords gate the pipeline: a publication with no match is
	// discarded before classification.
	RelevanceKeywords []string `yaml:"relevance_keywords"`
	// TypePatterns is the ordered rule list, one per change type.
	TypePatterns []TypePattern `yaml:"type_patterns"`
	// CriticalKeywords force the critical tier (protection-delegate role,
	// core protection plan).
	CriticalKeywords []string `yaml:"critical_keywords"`
	// HighKeywords force the high tier when no critical keyword matched.
	HighKeywords []string `yaml:"high_keywords"`
	// UrgencyKeywords set the urgent flag.
	UrgencyKeywords []string `yaml:"urgency_keywords"`
	// DomainMappings derive the affected document domains.
	DomainMappings []DomainMapping `yaml:"domain_mappings"`
	// DefaultTiers is the per-type fallback tier when no tier keyword
	// matched.
	DefaultTiers map[domain.ChangeType]domain.ImpactTier `yaml:"default_tiers"`
	// MaxArticles caps extracted article references.
	MaxArticles int `yaml:"max_articles"`
}

// DefaultRuleSet returns the built-in rule table for the child-protection
// compliance domain. Production deployments load a tuned table from YAML;
// the thresholds here are heuristic starting points.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		RelevanceKeywords: []string{
			"protección de menores",
			"protección a la infancia",
			"delegado de protección",
			"delegados de protección",
			"plan de protección",
			"protocolo de actuación",
			"código de conducta",
			"lopivi",
			"entorno seguro",
			"buenas prácticas deportivas",
		},
		TypePatterns: []TypePattern{
			{Type: domain.ChangeNewRegulation, Pattern: `se aprueba|nueva (ley|norma|regulación|orden)|nuevo (protocolo|reglamento|real decreto)`},
			{Type: domain.ChangeAmendment, Pattern: `se modifica|modificación de|queda modificad|se reforma`},
			{Type: domain.ChangeRepeal, Pattern: `se deroga|derogación de|queda derogad`},
			{Type: domain.ChangeClarification, Pattern: `se aclara|aclaración|criterio interpretativo|instrucción interpretativa`},
		},
		CriticalKeywords: []string{
			"delegado de protección",
			"delegados de protección",
			"plan de protección",
		},
		HighKeywords: []string{
			"protocolo",
			"código de conducta",
		},
		UrgencyKeywords: []string{
			"vigencia inmediata",
			"aplicación inmediata",
			"con carácter urgente",
			"entrada en vigor inmediata",
		},
		DomainMappings: []DomainMapping{
			{Keyword: "delegado", Domains: []domain.Domain{domain.DomainProtectionPlan}},
			{Keyword: "plan de protección", Domains: []domain.Domain{domain.DomainProtectionPlan, domain.DomainRiskAssessment}},
			{Keyword: "protocolo", Domains: []domain.Domain{domain.DomainProtocols}},
			{Keyword: "código de conducta", Domains: []domain.Domain{domain.DomainConductCode}},
			{Keyword: "conducta", Domains: []domain.Domain{domain.DomainConductCode}},
			{Keyword: "formación", Domains: []domain.Domain{domain.DomainTraining}},
			{Keyword: "riesgo", Domains: []domain.Domain{domain.DomainRiskAssessment}},
		},
		DefaultTiers: map[domain.ChangeType]domain.ImpactTier{
			domain.ChangeNewRegulation: domain.TierMedium,
			domain.ChangeAmendment:     domain.TierMedium,
			domain.ChangeRepeal:        domain.TierMedium,
			domain.ChangeClarification: domain.TierLow,
		},
		MaxArticles: 20,
	}
}

// LoadRuleSet reads and validates a YAML rule table.
func LoadRuleSet(path string) (RuleSet, error) {
	//nolint:gosec // Rules file path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("rules file %s invalid: %w", path, err)
	}
	return rs, nil
}

// Validate checks the rule table for structural problems.
func (rs RuleSet) Validate() error {
	if len(rs.RelevanceKeywords) == 0 {
		return fmt.Errorf("relevance_keywords must not be empty")
	}
	if len(rs.TypePatterns) == 0 {
		return fmt.Errorf("type_patterns must not be empty")
	}
	seen := make(map[domain.ChangeType]bool, len(rs.TypePatterns))
	for i, tp := range rs.TypePatterns {
		if tp.Type == "" {
			return fmt.Errorf("type_patterns[%d]: missing type", i)
		}
		if seen[tp.Type] {
			return fmt.Errorf("type_patterns[%d]: duplicate type %q", i, tp.Type)
		}
		seen[tp.Type] = true
		if _, err := regexp.Compile(tp.Pattern); err != nil {
			return fmt.Errorf("type_patterns[%d] (%s): %w", i, tp.Type, err)
		}
	}
	for i, dm := range rs.DomainMappings {
		if dm.Keyword == "" {
			return fmt.Errorf("domain_mappings[%d]: missing keyword", i)
		}
		if len(dm.Domains) == 0 {
			return fmt.Errorf("domain_mappings[%d] (%s): no domains", i, dm.Keyword)
		}
	}
	if rs.MaxArticles < 0 {
		return fmt.Errorf("max_articles must not be negative")
	}
	return nil
}
