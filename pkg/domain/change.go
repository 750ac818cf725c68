package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Publication is one raw item from the regulatory feed for a given date.
// It is immutable; the feed source produces it and the pipeline consumes it
// once per cycle.
type Publication struct {
	ID               string
	PublishedAt      time.Time
	SourceIdentifier string
	URL              string
	RawText          string
}

// ChangeType categorizes a detected regulatory change.
type ChangeType string

const (
	ChangeNewRegulation ChangeType = "new_regulation"
	ChangeAmendment     ChangeType = "amendment"
	ChangeRepeal        ChangeType = "repeal"
	ChangeClarification ChangeType = "clarification"
)

// ImpactTier is the severity classification driving how urgently and how
// automatically a change is remediated.
type ImpactTier string

const (
	TierCritical ImpactTier = "critical"
	TierHigh     ImpactTier = "high"
	TierMedium   ImpactTier = "medium"
	TierLow      ImpactTier = "low"
)

// Domain identifies a downstream document category impacted by a change.
type Domain string

const (
	DomainProtectionPlan Domain = "protection_plan"
	DomainProtocols      Domain = "protocols"
	DomainConductCode    Domain = "conduct_code"
	DomainTraining       Domain = "training"
	DomainRiskAssessment Domain = "risk_assessment"
)

// ChangeState is the lifecycle state of a RegulatoryChange. States only
// advance forward; the ledger enforces the legal transitions.
type ChangeState string

const (
	StateDetected           ChangeState = "detected"
	StateAnalyzing          ChangeState = "analyzing"
	StateImplemented        ChangeState = "implemented"
	StateAwaitingValidation ChangeState = "awaiting_validation"
	StateCommunicated       ChangeState = "communicated"
)

// RegulatoryChange is a detected, classified change from the feed.
//
// Its ID is derived deterministically from (SourceIdentifier, ChangeType) so
// that re-processing the same publication never creates a duplicate record.
type RegulatoryChange struct {
	ID               string              `json:"id"`
	SourceIdentifier string              `json:"sourceIdentifier"`
	URL              string              `json:"url,omitempty"`
	ChangeType       ChangeType          `json:"changeType"`
	ImpactTier       ImpactTier          `json:"impactTier"`
	Urgent           bool                `json:"urgent"`
	AffectedArticles []string            `json:"affectedArticles,omitempty"`
	AffectedDomains  []Domain            `json:"affectedDomains,omitempty"`
	EffectiveDate    time.Time           `json:"effectiveDate"`
	DetectedAt       time.Time           `json:"detectedAt"`
	State            ChangeState         `json:"state"`
	ValidatedBy      string              `json:"validatedBy,omitempty"`
	ValidatedAt      *time.Time          `json:"validatedAt,omitempty"`
	Actions          []RemediationAction `json:"actions,omitempty"`
}

// ChangeID derives the deterministic identifier for a change.
func ChangeID(sourceIdentifier string, changeType ChangeType) string {
	sum := sha256.Sum256([]byte(sourceIdentifier + "|" + string(changeType)))
	return hex.EncodeToString(sum[:])[:24]
}

// ActionType categorizes one unit of remediation work.
type ActionType string

const (
	ActionUpdateDocument     ActionType = "update_document"
	ActionNotifyStakeholders ActionType = "notify_stakeholders"
	ActionGenerateProtocol   ActionType = "generate_protocol"
	ActionScheduleTraining   ActionType = "schedule_training"
)

// Priority orders remediation actions for execution and reporting.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// ActionState is the execution state of a RemediationAction. Executed is
// terminal; Failed may return to Pending only while attempts remain.
type ActionState string

const (
	ActionPending  ActionState = "pending"
	ActionExecuted ActionState = "executed"
	ActionFailed   ActionState = "failed"
)

// RemediationAction is one concrete unit of follow-up work owned by a
// RegulatoryChange.
type RemediationAction struct {
	ID           string      `json:"id"`
	ChangeID     string      `json:"changeId"`
	Type         ActionType  `json:"type"`
	TargetDomain Domain      `json:"targetDomain,omitempty"`
	Priority     Priority    `json:"priority"`
	State        ActionState `json:"state"`
	Attempts     int         `json:"attempts"`
	LastError    string      `json:"lastError,omitempty"`
}

// Terminal reports whether the action has reached a final state given the
// retry cap: Executed, or Failed with no attempts remaining.
func (a RemediationAction) Terminal(maxAttempts int) bool {
	if a.State == ActionExecuted {
		return true
	}
	return a.State == ActionFailed && a.Attempts >= maxAttempts
}

// PriorityForTier maps an impact tier to the priority used for its
// stakeholder notification.
func PriorityForTier(tier ImpactTier) Priority {
	switch tier {
	case TierCritical:
		return PriorityImmediate
	case TierHigh:
		return PriorityHigh
	case TierMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
