package escalate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/storage"
)

type recordingAlerter struct {
	alerts []string
	err    error
}

func (a *recordingAlerter) Alert(_ context.Context, change domain.RegulatoryChange) error {
	a.alerts = append(a.alerts, change.ID)
	return a.err
}

func newGate(t *testing.T, alerter *recordingAlerter) (*Gate, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(ledger.Config{Store: storage.NewMemoryChangeStore()})
	return New(Config{Ledger: led, Alerter: alerter}), led
}

func criticalChange(source string) domain.RegulatoryChange {
	return domain.RegulatoryChange{
		ID:               domain.ChangeID(source, domain.ChangeNewRegulation),
		SourceIdentifier: source,
		ChangeType:       domain.ChangeNewRegulation,
		ImpactTier:       domain.TierCritical,
	}
}

func TestEscalate_AlertsOnlyForCriticalTier(t *testing.T) {
	alerter := &recordingAlerter{}
	gate, _ := newGate(t, alerter)

	critical := criticalChange("BOE-A-2026-20")
	gate.Escalate(context.Background(), critical)

	high := critical
	high.ImpactTier = domain.TierHigh
	gate.Escalate(context.Background(), high)

	assert.Equal(t, []string{critical.ID}, alerter.alerts)
}

func TestEscalate_AlertFailureDoesNotPanicOrBlock(t *testing.T) {
	alerter := &recordingAlerter{err: errors.New("pager down")}
	gate, _ := newGate(t, alerter)

	gate.Escalate(context.Background(), criticalChange("BOE-A-2026-21"))
	assert.Len(t, alerter.alerts, 1)
}

func TestParkAndRecordValidation(t *testing.T) {
	gate, led := newGate(t, &recordingAlerter{})
	ctx := context.Background()

	ch := criticalChange("BOE-A-2026-22")
	created, err := led.Create(ctx, ch)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, led.BeginAnalysis(ctx, ch.ID))
	require.NoError(t, led.RecordActionPlan(ctx, ch.ID, []domain.RemediationAction{{
		ID: ch.ID + "-00-notify_stakeholders", Type: domain.ActionNotifyStakeholders,
	}}))
	require.NoError(t, led.RecordActionResult(ctx, ch.ID, ch.ID+"-00-notify_stakeholders", domain.ActionExecuted, 1, ""))
	ready, err := led.TryAdvanceToImplemented(ctx, ch.ID)
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, gate.Park(ctx, ch.ID))
	got, err := led.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingValidation, got.State)

	// Communication stays blocked until sign-off.
	assert.ErrorIs(t, led.MarkCommunicated(ctx, ch.ID), domain.ErrValidationPending)

	require.NoError(t, gate.RecordValidation(ctx, ch.ID, "dpo@federacion.example"))
	got, err = led.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "dpo@federacion.example", got.ValidatedBy)
	require.NotNil(t, got.ValidatedAt)

	require.NoError(t, led.MarkCommunicated(ctx, ch.ID))
}

func TestRecordValidation_RequiresParkedChange(t *testing.T) {
	gate, led := newGate(t, &recordingAlerter{})
	ctx := context.Background()

	ch := criticalChange("BOE-A-2026-23")
	_, err := led.Create(ctx, ch)
	require.NoError(t, err)

	err = gate.RecordValidation(ctx, ch.ID, "dpo@federacion.example")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
