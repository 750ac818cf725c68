package domain

import (
	"context"
	"time"
)

// FeedSource returns raw publications for a date window. Implementations
// abstract the actual gazette transport; a transient outage is reported by
// wrapping ErrFeedUnavailable.
type FeedSource interface {
	FetchPublications(ctx context.Context, from, to time.Time) ([]Publication, error)
}

// NotificationSender delivers a change notice to a single stakeholder.
// Each recipient send is an independent outcome.
type NotificationSender interface {
	Send(ctx context.Context, recipient string, change RegulatoryChange) error
}

// TemplateRegenerator rebuilds the downstream artifact for one domain after
// a change.
type TemplateRegenerator interface {
	Regenerate(ctx context.Context, domain Domain, change RegulatoryChange) error
}

// ProtocolGenerator produces a new actuation protocol for a new regulation.
type ProtocolGenerator interface {
	Generate(ctx context.Context, change RegulatoryChange) error
}

// TrainingScheduler books follow-up training for an urgent or high-impact
// change.
type TrainingScheduler interface {
	Schedule(ctx context.Context, change RegulatoryChange) error
}

// Alerter raises the out-of-band internal alert for critical-tier changes,
// separate from the regular stakeholder notification fan-out.
type Alerter interface {
	Alert(ctx context.Context, change RegulatoryChange) error
}

// ChangeStore persists RegulatoryChange records. Only the ledger calls the
// mutating methods; everything else reads.
type ChangeStore interface {
	// Create persists a new change. Returns ErrDuplicateChange if a record
	// with the same id already exists.
	Create(ctx context.Context, change *RegulatoryChange) error
	// Get returns the change with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*RegulatoryChange, error)
	// Update replaces the stored record. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, change *RegulatoryChange) error
	// List returns changes, optionally filtered by state (empty = all).
	List(ctx context.Context, state ChangeState) ([]*RegulatoryChange, error)
	Close() error
}

// RunStore keeps append-only MonitoringRun records.
type RunStore interface {
	Append(ctx context.Context, run *MonitoringRun) error
	Get(ctx context.Context, id string) (*MonitoringRun, error)
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]*MonitoringRun, error)
	Close() error
}
