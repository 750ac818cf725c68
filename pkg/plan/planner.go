// Package plan derives the ordered remediation action list for a classified
// change. Plan is a pure function: the same change fields always yield the
// same actions in the same order, which keeps re-planning idempotent and
// testable.
package plan

import (
	"fmt"
	"sort"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// Plan maps a classified change to its remediation actions:
//
//   - one UpdateDocument per affected domain
//   - GenerateProtocol for new regulations
//   - ScheduleTraining when urgent or critical/high tier
//   - exactly one NotifyStakeholders, always last, so stakeholders are never
//     told about an update that has not been applied yet
//
// Action ids are derived from the change id and action position, not random,
// so planning twice produces identical records.
func Plan(change domain.RegulatoryChange) []domain.RemediationAction {
	notifyPriority := domain.PriorityForTier(change.ImpactTier)

	var actions []domain.RemediationAction
	add := func(actionType domain.ActionType, target domain.Domain, priority domain.Priority) {
		actions = append(actions, domain.RemediationAction{
			ID:           fmt.Sprintf("%s-%02d-%s", change.ID, len(actions), actionType),
			ChangeID:     change.ID,
			Type:         actionType,
			TargetDomain: target,
			Priority:     priority,
			State:        domain.ActionPending,
		})
	}

	domains := append([]domain.Domain(nil), change.AffectedDomains...)
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	for _, d := range domains {
		add(domain.ActionUpdateDocument, d, notifyPriority)
	}

	if change.ChangeType == domain.ChangeNewRegulation {
		add(domain.ActionGenerateProtocol, domain.DomainProtocols, notifyPriority)
	}

	if change.Urgent || change.ImpactTier == domain.TierCritical || change.ImpactTier == domain.TierHigh {
		add(domain.ActionScheduleTraining, domain.DomainTraining, notifyPriority)
	}

	add(domain.ActionNotifyStakeholders, "", notifyPriority)

	return actions
}
