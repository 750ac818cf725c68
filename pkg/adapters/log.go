// Package adapters provides default implementations of the outbound ports.
//
// The stock adapters write a structured audit line for every side effect and
// succeed. Deployments integrate real document tooling, mail, or chat
// delivery by implementing the port interfaces in pkg/domain and swapping
// these out at wiring time.
package adapters

import (
	"context"
	"log/slog"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// LogAdapters implements every outbound port by logging the requested side
// effect.
type LogAdapters struct {
	logger *slog.Logger
}

// NewLogAdapters creates a LogAdapters.
func NewLogAdapters(logger *slog.Logger) *LogAdapters {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapters{logger: logger}
}

// Regenerate implements domain.TemplateRegenerator.
func (a *LogAdapters) Regenerate(_ context.Context, d domain.Domain, change domain.RegulatoryChange) error {
	a.logger.Info("document template regenerated",
		"domain", d, "change_id", change.ID, "source", change.SourceIdentifier)
	return nil
}

// Generate implements domain.ProtocolGenerator.
func (a *LogAdapters) Generate(_ context.Context, change domain.RegulatoryChange) error {
	a.logger.Info("actuation protocol generated",
		"change_id", change.ID, "source", change.SourceIdentifier)
	return nil
}

// Schedule implements domain.TrainingScheduler.
func (a *LogAdapters) Schedule(_ context.Context, change domain.RegulatoryChange) error {
	a.logger.Info("follow-up training scheduled",
		"change_id", change.ID, "impact_tier", change.ImpactTier)
	return nil
}

// Send implements domain.NotificationSender.
func (a *LogAdapters) Send(_ context.Context, recipient string, change domain.RegulatoryChange) error {
	a.logger.Info("stakeholder notified",
		"recipient", recipient, "change_id", change.ID, "impact_tier", change.ImpactTier)
	return nil
}

// Alert implements domain.Alerter.
func (a *LogAdapters) Alert(_ context.Context, change domain.RegulatoryChange) error {
	a.logger.Warn("critical regulatory change detected",
		"change_id", change.ID, "source", change.SourceIdentifier, "urgent", change.Urgent)
	return nil
}
