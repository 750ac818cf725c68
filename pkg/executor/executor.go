// Package executor runs planned remediation actions against pluggable
// handlers, reporting each outcome back to the ledger as an intent.
//
// Execution guarantees:
//   - every action is retried with exponential backoff up to the configured
//     attempt cap; exhausting the cap marks it Failed without blocking
//     sibling actions
//   - document and protocol work for a change reaches a terminal state
//     before its stakeholder notification is dispatched
//   - actions touching the same target domain are serialized via a
//     per-domain lock, even across concurrently processed changes
//   - the stakeholder notification fans out per recipient; one recipient
//     failing does not fail the others
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/normwatch/normwatch-oss/internal/governance"
	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/telemetry"
)

// ErrNoHandler is returned when an action type has no registered handler.
var ErrNoHandler = errors.New("no handler registered for action type")

// Handlers bundles the external collaborators actions dispatch to.
type Handlers struct {
	Templates domain.TemplateRegenerator
	Protocols domain.ProtocolGenerator
	Training  domain.TrainingScheduler
	Notifier  domain.NotificationSender
}

// Config holds dependencies for creating an Executor.
type Config struct {
	Ledger   *ledger.Ledger
	Handlers Handlers
	// Recipients is the stakeholder list for notification fan-out.
	Recipients []string
	Retry      governance.RetryConfig
	// Workers bounds how many changes are processed concurrently.
	Workers int
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Executor dispatches remediation actions by type and tracks their state
// through the ledger.
type Executor struct {
	ledger     *ledger.Ledger
	handlers   Handlers
	recipients []string
	retry      *governance.RetryPolicy
	workers    int
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	domainLocks keyedMutex
}

// New creates an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts <= 0 {
		retryCfg.MaxAttempts = cfg.Ledger.MaxAttempts()
	}
	return &Executor{
		ledger:     cfg.Ledger,
		handlers:   cfg.Handlers,
		recipients: cfg.Recipients,
		retry:      governance.NewRetryPolicy(retryCfg),
		workers:    workers,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Result summarizes action outcomes for a batch of changes.
type Result struct {
	Executed int
	Failed   int
}

// ExecuteAll processes the given changes with a bounded worker pool. Each
// change's actions run to terminal states; failures are isolated and
// reported, never propagated as an error.
func (e *Executor) ExecuteAll(ctx context.Context, changes []*domain.RegulatoryChange) Result {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var total Result

	for _, ch := range changes {
		wg.Add(1)
		sem <- struct{}{}
		go func(ch *domain.RegulatoryChange) {
			defer wg.Done()
			defer func() { <-sem }()

			res := e.ExecuteChange(ctx, ch)
			mu.Lock()
			total.Executed += res.Executed
			total.Failed += res.Failed
			mu.Unlock()
		}(ch)
	}

	wg.Wait()
	return total
}

// ExecuteChange runs all runnable actions of one change: first the document,
// protocol, and training work (concurrently, domain-locked), then the
// stakeholder notification once everything else is terminal. Runnable means
// Pending, or Failed with attempts still under the cap, so changes picked up
// again after an interrupted cycle make progress instead of stalling.
func (e *Executor) ExecuteChange(ctx context.Context, change *domain.RegulatoryChange) Result {
	attemptCap := e.retry.Config().MaxAttempts
	var preliminary []domain.RemediationAction
	var notifies []domain.RemediationAction
	for _, a := range change.Actions {
		if a.Terminal(attemptCap) {
			continue
		}
		if a.Type == domain.ActionNotifyStakeholders {
			notifies = append(notifies, a)
		} else {
			preliminary = append(preliminary, a)
		}
	}

	var mu sync.Mutex
	var res Result
	record := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			res.Executed++
		} else {
			res.Failed++
		}
	}

	var wg sync.WaitGroup
	for _, a := range preliminary {
		wg.Add(1)
		go func(a domain.RemediationAction) {
			defer wg.Done()
			record(e.runAction(ctx, change, a))
		}(a)
	}
	wg.Wait()

	// Stakeholders are only notified after every update for this change has
	// reached a terminal state.
	for _, a := range notifies {
		record(e.runNotify(ctx, change, a))
	}

	return res
}

// runAction executes one non-notify action with retry, reporting the final
// outcome to the ledger. Attempts accumulate across cycles on top of what
// the action had already consumed. Returns true when the action executed.
func (e *Executor) runAction(ctx context.Context, change *domain.RegulatoryChange, action domain.RemediationAction) bool {
	attempts := action.Attempts
	started := time.Now()

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		return e.dispatch(ctx, change, action)
	}, func(_ int, err error) {
		if e.metrics != nil {
			e.metrics.RecordActionRetry()
		}
		e.logger.Warn("action attempt failed, retrying",
			"change_id", change.ID, "action_id", action.ID, "action_type", action.Type, "error", err)
	})

	if err != nil {
		// A canceled cycle is not a verdict on the action: leave it
		// Pending so the next cycle picks it up with its remaining
		// attempt budget intact. If the budget ran out before the
		// interruption the failure stands.
		if ctx.Err() != nil && attempts < e.retry.Config().MaxAttempts {
			e.logger.Warn("action interrupted, will run again next cycle",
				"change_id", change.ID, "action_id", action.ID, "action_type", action.Type, "error", err)
			e.report(ctx, change.ID, action.ID, domain.ActionPending, attempts, err.Error())
			return false
		}
		e.logger.Error("action failed permanently",
			"change_id", change.ID, "action_id", action.ID, "action_type", action.Type,
			"attempts", attempts, "error", err)
		if e.metrics != nil {
			e.metrics.RecordActionFailed(string(action.Type))
		}
		e.report(ctx, change.ID, action.ID, domain.ActionFailed, attempts, err.Error())
		return false
	}

	if e.metrics != nil {
		e.metrics.RecordActionExecuted(string(action.Type), time.Since(started))
	}
	e.report(ctx, change.ID, action.ID, domain.ActionExecuted, attempts, "")
	return true
}

// runNotify fans the notification out to all recipients. Each recipient
// gets its own retry budget; the action is Failed only when every recipient
// ultimately failed. The action-level attempt count advances by the most
// send attempts any recipient actually made, so an interrupted fan-out does
// not burn budget it never used.
func (e *Executor) runNotify(ctx context.Context, change *domain.RegulatoryChange, action domain.RemediationAction) bool {
	if e.handlers.Notifier == nil {
		e.report(ctx, change.ID, action.ID, domain.ActionFailed, action.Attempts+1, ErrNoHandler.Error())
		return false
	}
	if len(e.recipients) == 0 {
		// Nothing to deliver; the action trivially succeeds.
		e.report(ctx, change.ID, action.ID, domain.ActionExecuted, action.Attempts+1, "")
		return true
	}

	type outcome struct {
		recipient string
		attempts  int
		err       error
	}
	outcomes := make([]outcome, len(e.recipients))

	var wg sync.WaitGroup
	for i, recipient := range e.recipients {
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			sends := 0
			err := e.retry.Do(ctx, func(ctx context.Context) error {
				sends++
				return e.handlers.Notifier.Send(ctx, recipient, *change)
			}, func(_ int, err error) {
				if e.metrics != nil {
					e.metrics.RecordActionRetry()
				}
				e.logger.Warn("notification attempt failed, retrying",
					"change_id", change.ID, "recipient", recipient, "error", err)
			})
			outcomes[i] = outcome{recipient: recipient, attempts: sends, err: err}
		}(i, recipient)
	}
	wg.Wait()

	delivered := 0
	mostSends := 0
	var failures []string
	for _, o := range outcomes {
		if o.attempts > mostSends {
			mostSends = o.attempts
		}
		if e.metrics != nil {
			e.metrics.RecordNotification(o.err == nil)
		}
		if o.err == nil {
			delivered++
			e.logger.Info("notification delivered", "change_id", change.ID, "recipient", o.recipient)
		} else {
			failures = append(failures, fmt.Sprintf("%s: %v", o.recipient, o.err))
			e.logger.Error("notification failed", "change_id", change.ID, "recipient", o.recipient, "error", o.err)
		}
	}
	attempts := action.Attempts + mostSends

	if delivered == 0 {
		reason := "all recipients failed: " + strings.Join(failures, "; ")
		// An interrupted fan-out with budget to spare stays Pending for
		// the next cycle rather than being recorded as a failure it
		// never got to earn.
		if ctx.Err() != nil && attempts < e.retry.Config().MaxAttempts {
			e.logger.Warn("notification interrupted, will run again next cycle",
				"change_id", change.ID, "action_id", action.ID, "error", ctx.Err())
			e.report(ctx, change.ID, action.ID, domain.ActionPending, attempts, reason)
			return false
		}
		if e.metrics != nil {
			e.metrics.RecordActionFailed(string(action.Type))
		}
		e.report(ctx, change.ID, action.ID, domain.ActionFailed, attempts, reason)
		return false
	}

	lastError := ""
	if len(failures) > 0 {
		lastError = fmt.Sprintf("delivered %d/%d; failed: %s", delivered, len(e.recipients), strings.Join(failures, "; "))
	}
	if e.metrics != nil {
		e.metrics.RecordActionExecuted(string(action.Type), 0)
	}
	e.report(ctx, change.ID, action.ID, domain.ActionExecuted, attempts, lastError)
	return true
}

// dispatch routes one action to its handler, holding the target-domain lock
// for the duration of the handler call.
func (e *Executor) dispatch(ctx context.Context, change *domain.RegulatoryChange, action domain.RemediationAction) error {
	if action.TargetDomain != "" {
		unlock := e.domainLocks.lock(string(action.TargetDomain))
		defer unlock()
	}

	switch action.Type {
	case domain.ActionUpdateDocument:
		if e.handlers.Templates == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, action.Type)
		}
		return e.handlers.Templates.Regenerate(ctx, action.TargetDomain, *change)
	case domain.ActionGenerateProtocol:
		if e.handlers.Protocols == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, action.Type)
		}
		return e.handlers.Protocols.Generate(ctx, *change)
	case domain.ActionScheduleTraining:
		if e.handlers.Training == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, action.Type)
		}
		return e.handlers.Training.Schedule(ctx, *change)
	default:
		return fmt.Errorf("%w: %s", ErrNoHandler, action.Type)
	}
}

// report submits an action outcome intent to the ledger. Reporting errors
// are logged, not propagated; the ledger is the source of truth and the
// next cycle can reconcile. The write is detached from cycle cancellation
// so an interrupted cycle still leaves an accurate record.
func (e *Executor) report(ctx context.Context, changeID, actionID string, state domain.ActionState, attempts int, lastError string) {
	ctx = context.WithoutCancel(ctx)
	if err := e.ledger.RecordActionResult(ctx, changeID, actionID, state, attempts, lastError); err != nil {
		e.logger.Error("failed to record action result",
			"change_id", changeID, "action_id", actionID, "state", state, "error", err)
	}
}
