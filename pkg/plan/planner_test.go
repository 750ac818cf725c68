package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

func change() domain.RegulatoryChange {
	return domain.RegulatoryChange{
		ID:              domain.ChangeID("BOE-A-2026-100", domain.ChangeNewRegulation),
		ChangeType:      domain.ChangeNewRegulation,
		ImpactTier:      domain.TierCritical,
		Urgent:          true,
		AffectedDomains: []domain.Domain{domain.DomainProtocols, domain.DomainProtectionPlan},
	}
}

func types(actions []domain.RemediationAction) []domain.ActionType {
	out := make([]domain.ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func TestPlan_CriticalUrgentNewRegulation(t *testing.T) {
	actions := Plan(change())

	assert.Equal(t, []domain.ActionType{
		domain.ActionUpdateDocument, // protection_plan (sorted)
		domain.ActionUpdateDocument, // protocols
		domain.ActionGenerateProtocol,
		domain.ActionScheduleTraining,
		domain.ActionNotifyStakeholders,
	}, types(actions))

	assert.Equal(t, domain.DomainProtectionPlan, actions[0].TargetDomain)
	assert.Equal(t, domain.DomainProtocols, actions[1].TargetDomain)
	for _, a := range actions {
		assert.Equal(t, domain.PriorityImmediate, a.Priority)
		assert.Equal(t, domain.ActionPending, a.State)
	}
}

func TestPlan_NotifyAlwaysLastAndAlwaysPresent(t *testing.T) {
	tests := []struct {
		name string
		ch   domain.RegulatoryChange
	}{
		{"empty change", domain.RegulatoryChange{ID: "x", ChangeType: domain.ChangeClarification, ImpactTier: domain.TierLow}},
		{"amendment with domains", domain.RegulatoryChange{ID: "y", ChangeType: domain.ChangeAmendment, ImpactTier: domain.TierMedium, AffectedDomains: []domain.Domain{domain.DomainConductCode}}},
		{"urgent repeal", domain.RegulatoryChange{ID: "z", ChangeType: domain.ChangeRepeal, ImpactTier: domain.TierLow, Urgent: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := Plan(tt.ch)
			require.NotEmpty(t, actions)
			assert.Equal(t, domain.ActionNotifyStakeholders, actions[len(actions)-1].Type)

			notifies := 0
			for _, a := range actions {
				if a.Type == domain.ActionNotifyStakeholders {
					notifies++
				}
			}
			assert.Equal(t, 1, notifies)
		})
	}
}

func TestPlan_ProtocolOnlyForNewRegulation(t *testing.T) {
	ch := change()
	ch.ChangeType = domain.ChangeAmendment

	assert.NotContains(t, types(Plan(ch)), domain.ActionGenerateProtocol)
	assert.Contains(t, types(Plan(change())), domain.ActionGenerateProtocol)
}

func TestPlan_TrainingRules(t *testing.T) {
	ch := domain.RegulatoryChange{ID: "x", ChangeType: domain.ChangeAmendment, ImpactTier: domain.TierMedium}
	assert.NotContains(t, types(Plan(ch)), domain.ActionScheduleTraining)

	ch.Urgent = true
	assert.Contains(t, types(Plan(ch)), domain.ActionScheduleTraining)

	ch.Urgent = false
	ch.ImpactTier = domain.TierHigh
	assert.Contains(t, types(Plan(ch)), domain.ActionScheduleTraining)
}

func TestPlan_NotifyPriorityMirrorsTier(t *testing.T) {
	tiers := map[domain.ImpactTier]domain.Priority{
		domain.TierCritical: domain.PriorityImmediate,
		domain.TierHigh:     domain.PriorityHigh,
		domain.TierMedium:   domain.PriorityMedium,
		domain.TierLow:      domain.PriorityLow,
	}
	for tier, want := range tiers {
		ch := domain.RegulatoryChange{ID: "x", ChangeType: domain.ChangeAmendment, ImpactTier: tier}
		actions := Plan(ch)
		assert.Equal(t, want, actions[len(actions)-1].Priority, "tier %s", tier)
	}
}

// Plan must be deterministic: identical input changes always produce
// identical action lists, regardless of input domain order.
func TestPlan_DeterministicProperty(t *testing.T) {
	allDomains := []domain.Domain{
		domain.DomainProtectionPlan, domain.DomainProtocols,
		domain.DomainConductCode, domain.DomainTraining, domain.DomainRiskAssessment,
	}
	allTiers := []domain.ImpactTier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow}
	allTypes := []domain.ChangeType{domain.ChangeNewRegulation, domain.ChangeAmendment, domain.ChangeRepeal, domain.ChangeClarification}

	rapid.Check(t, func(t *rapid.T) {
		ch := domain.RegulatoryChange{
			ID:         rapid.StringMatching(`[a-f0-9]{24}`).Draw(t, "id"),
			ChangeType: allTypes[rapid.IntRange(0, 3).Draw(t, "type")],
			ImpactTier: allTiers[rapid.IntRange(0, 3).Draw(t, "tier")],
			Urgent:     rapid.Bool().Draw(t, "urgent"),
		}
		n := rapid.IntRange(0, 5).Draw(t, "ndomains")
		perm := rapid.Permutation(allDomains).Draw(t, "perm")
		ch.AffectedDomains = perm[:n]

		first := Plan(ch)

		// Shuffle the domain order; the plan must not change.
		shuffled := ch
		shuffled.AffectedDomains = rapid.Permutation(ch.AffectedDomains).Draw(t, "reperm")
		second := Plan(shuffled)

		if len(first) != len(second) {
			t.Fatalf("plan length changed: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("plan differs at %d: %+v vs %+v", i, first[i], second[i])
			}
		}
	})
}
