// Package ledger is the single writer of RegulatoryChange state.
//
// All mutation of change and action records flows through the Ledger's
// transition methods; other components submit intents and read. The ledger
// enforces idempotent creation and forward-only lifecycle transitions, and
// gates communication of critical-tier changes behind a recorded human
// validation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// Config holds dependencies for creating a Ledger.
type Config struct {
	Store domain.ChangeStore
	// MaxAttempts is the per-action retry cap used to decide whether a
	// Failed action is terminal.
	MaxAttempts int
	Logger      *slog.Logger
}

// Ledger owns RegulatoryChange lifecycle state.
type Ledger struct {
	store       domain.ChangeStore
	maxAttempts int
	logger      *slog.Logger

	// mu serializes read-modify-write cycles against the store. The store
	// itself is dumb CRUD; this is the single-writer lock.
	mu sync.Mutex
}

// New creates a Ledger.
func New(cfg Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Ledger{store: cfg.Store, maxAttempts: maxAttempts, logger: logger}
}

// Create persists a newly detected change with state Detected. A change
// whose derived id already exists is an expected no-op: Create returns
// (false, nil), never a duplicate error to the caller.
func (l *Ledger) Create(ctx context.Context, change domain.RegulatoryChange) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	change.State = domain.StateDetected
	err := l.store.Create(ctx, &change)
	if errors.Is(err, domain.ErrDuplicateChange) {
		l.logger.Debug("duplicate change ignored", "change_id", change.ID, "source", change.SourceIdentifier)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create change %s: %w", change.ID, err)
	}
	return true, nil
}

// BeginAnalysis transitions Detected -> Analyzing.
func (l *Ledger) BeginAnalysis(ctx context.Context, id string) error {
	return l.transition(ctx, id, domain.StateAnalyzing, func(ch *domain.RegulatoryChange) error {
		if ch.State != domain.StateDetected {
			return l.invalid(ch, domain.StateAnalyzing)
		}
		return nil
	})
}

// RecordActionPlan attaches the planned remediation actions to a change in
// Analyzing. Actions are stored in Pending state.
func (l *Ledger) RecordActionPlan(ctx context.Context, id string, actions []domain.RemediationAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if ch.State != domain.StateAnalyzing {
		return fmt.Errorf("change %s: record plan in state %s: %w", ch.ID, ch.State, domain.ErrInvalidTransition)
	}
	for i := range actions {
		actions[i].ChangeID = id
		actions[i].State = domain.ActionPending
	}
	ch.Actions = actions
	return l.store.Update(ctx, ch)
}

// RecordActionResult applies an executor-reported outcome to one owned
// action. Action state is monotonic: an Executed action never reverts, and
// Failed may only return to Pending while attempts remain under the cap.
func (l *Ledger) RecordActionResult(ctx context.Context, changeID, actionID string, state domain.ActionState, attempts int, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, err := l.store.Get(ctx, changeID)
	if err != nil {
		return err
	}
	for i := range ch.Actions {
		a := &ch.Actions[i]
		if a.ID != actionID {
			continue
		}
		if a.State == domain.ActionExecuted && state != domain.ActionExecuted {
			return fmt.Errorf("%w: action %s already executed", domain.ErrInvalidTransition, actionID)
		}
		if state == domain.ActionPending && a.State == domain.ActionFailed && a.Attempts >= l.maxAttempts {
			return fmt.Errorf("%w: action %s attempts exhausted", domain.ErrInvalidTransition, actionID)
		}
		a.State = state
		if attempts > a.Attempts {
			a.Attempts = attempts
		}
		a.LastError = lastError
		return l.store.Update(ctx, ch)
	}
	return fmt.Errorf("action %s on change %s: %w", actionID, changeID, domain.ErrNotFound)
}

// TryAdvanceToImplemented moves Analyzing -> Implemented once every owned
// action is terminal (Executed, or Failed with attempts exhausted). When
// actions are still outstanding it reports (false, nil) and leaves the
// change untouched.
func (l *Ledger) TryAdvanceToImplemented(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, err := l.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if ch.State != domain.StateAnalyzing {
		return false, l.invalid(ch, domain.StateImplemented)
	}
	for _, a := range ch.Actions {
		if !a.Terminal(l.maxAttempts) {
			l.logger.Debug("change not ready for implemented",
				"change_id", id, "action_id", a.ID, "action_state", a.State, "attempts", a.Attempts)
			return false, nil
		}
	}
	ch.State = domain.StateImplemented
	if err := l.store.Update(ctx, ch); err != nil {
		return false, err
	}
	return true, nil
}

// RequireValidation moves a critical-tier change Implemented ->
// AwaitingValidation, parking it until a human validator signs off.
func (l *Ledger) RequireValidation(ctx context.Context, id string) error {
	return l.transition(ctx, id, domain.StateAwaitingValidation, func(ch *domain.RegulatoryChange) error {
		if ch.ImpactTier != domain.TierCritical {
			return fmt.Errorf("%w: change %s is %s tier, validation applies to critical only",
				domain.ErrInvalidTransition, id, ch.ImpactTier)
		}
		if ch.State != domain.StateImplemented {
			return l.invalid(ch, domain.StateAwaitingValidation)
		}
		return nil
	})
}

// RecordValidation records the human validator for a change in
// AwaitingValidation, making it eligible for communication.
func (l *Ledger) RecordValidation(ctx context.Context, id, validatedBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if validatedBy == "" {
		return fmt.Errorf("%w: validator identity required", domain.ErrInvalidTransition)
	}
	ch, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if ch.State != domain.StateAwaitingValidation {
		return fmt.Errorf("change %s: validate in state %s: %w", ch.ID, ch.State, domain.ErrInvalidTransition)
	}
	now := nowUTC()
	ch.ValidatedBy = validatedBy
	ch.ValidatedAt = &now
	return l.store.Update(ctx, ch)
}

// MarkCommunicated closes out a change. Non-critical changes move from
// Implemented; critical changes must be in AwaitingValidation with a
// recorded validator, otherwise ErrValidationPending is returned.
func (l *Ledger) MarkCommunicated(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if ch.ImpactTier == domain.TierCritical {
		switch {
		case ch.State == domain.StateAwaitingValidation && ch.ValidatedBy != "":
			// validated, proceed
		case ch.State == domain.StateAwaitingValidation || ch.State == domain.StateImplemented:
			return fmt.Errorf("change %s: %w", id, domain.ErrValidationPending)
		default:
			return l.invalid(ch, domain.StateCommunicated)
		}
	} else if ch.State != domain.StateImplemented {
		return l.invalid(ch, domain.StateCommunicated)
	}

	ch.State = domain.StateCommunicated
	return l.store.Update(ctx, ch)
}

// Get returns one change by id.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.RegulatoryChange, error) {
	return l.store.Get(ctx, id)
}

// List returns changes, optionally filtered by state.
func (l *Ledger) List(ctx context.Context, state domain.ChangeState) ([]*domain.RegulatoryChange, error) {
	return l.store.List(ctx, state)
}

// MaxAttempts returns the retry cap the ledger uses for terminal checks.
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

func (l *Ledger) transition(ctx context.Context, id string, to domain.ChangeState, check func(*domain.RegulatoryChange) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := check(ch); err != nil {
		return err
	}
	ch.State = to
	return l.store.Update(ctx, ch)
}

func (l *Ledger) invalid(ch *domain.RegulatoryChange, to domain.ChangeState) error {
	return fmt.Errorf("change %s: %s -> %s: %w", ch.ID, ch.State, to, domain.ErrInvalidTransition)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
