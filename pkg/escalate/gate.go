// Package escalate implements the manual checkpoint for critical-tier
// changes: an immediate out-of-band alert when one is detected, and the
// human validation that unblocks its communication.
package escalate

import (
	"context"
	"log/slog"

	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/events"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/telemetry"
)

// Config holds dependencies for creating a Gate.
type Config struct {
	Ledger  *ledger.Ledger
	Alerter domain.Alerter
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Gate raises critical-change alerts and records operator validations. It is
// the only place a human is required in the remediation loop.
type Gate struct {
	ledger  *ledger.Ledger
	alerter domain.Alerter
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a Gate.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{ledger: cfg.Ledger, alerter: cfg.Alerter, logger: logger, metrics: cfg.Metrics}
}

// Escalate raises the high-priority internal alert for a critical change.
// The scheduler calls it before any remediation action executes, so the
// alert always precedes the first document update. Alert delivery failure
// is logged but never blocks remediation.
func (g *Gate) Escalate(ctx context.Context, change domain.RegulatoryChange) {
	if change.ImpactTier != domain.TierCritical {
		return
	}
	if g.metrics != nil {
		g.metrics.RecordEscalation()
	}
	g.logger.Warn("critical regulatory change detected, validation will be required",
		"change_id", change.ID, "source", change.SourceIdentifier, "change_type", change.ChangeType)

	if g.alerter == nil {
		return
	}
	if err := g.alerter.Alert(ctx, change); err != nil {
		g.logger.Error("escalation alert delivery failed", "change_id", change.ID, "error", err)
	}
}

// Park moves an implemented critical change into AwaitingValidation so it
// cannot be communicated until a validator signs off.
func (g *Gate) Park(ctx context.Context, changeID string) error {
	return g.ledger.RequireValidation(ctx, changeID)
}

// RecordValidation registers the human sign-off for a parked change, making
// it eligible for communication.
func (g *Gate) RecordValidation(ctx context.Context, changeID, validatedBy string) error {
	if err := g.ledger.RecordValidation(ctx, changeID, validatedBy); err != nil {
		return err
	}
	g.logger.Info("critical change validated", "change_id", changeID, "validated_by", validatedBy)
	return nil
}

// Watch consumes the detected-changes topic and logs every detection. It
// returns when the context is canceled or the topic closes. Alerting for
// ordering-sensitive critical changes goes through Escalate; Watch is the
// passive audit trail.
func (g *Gate) Watch(ctx context.Context, topic *events.Topic[domain.RegulatoryChange]) {
	sub := topic.Subscribe(64)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub:
			if !ok {
				return
			}
			g.logger.Info("change detected",
				"change_id", change.ID, "change_type", change.ChangeType,
				"impact_tier", change.ImpactTier, "urgent", change.Urgent)
		}
	}
}
