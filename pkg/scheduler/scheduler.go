// Package scheduler owns the monitoring cadence: it triggers detection
// cycles on a timer or on demand, enforces cycle mutual exclusion, applies
// cycle-level retry with a short delay after feed outages, and produces one
// MonitoringRun report per cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/normwatch/normwatch-oss/pkg/classify"
	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/escalate"
	"github.com/normwatch/normwatch-oss/pkg/events"
	"github.com/normwatch/normwatch-oss/pkg/executor"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/plan"
	"github.com/normwatch/normwatch-oss/pkg/telemetry"
)

const (
	// DefaultInterval is the polling cadence between cycles.
	DefaultInterval = 6 * time.Hour
	// DefaultRetryDelay is the short delay before retrying after a
	// cycle-level failure such as a feed outage.
	DefaultRetryDelay = 15 * time.Minute
	// DefaultCycleTimeout bounds one full cycle.
	DefaultCycleTimeout = 10 * time.Minute
	// DefaultLookback is the feed window scanned each cycle. Overlapping
	// windows are safe: change creation is idempotent.
	DefaultLookback = 24 * time.Hour
)

// Config holds dependencies for creating a Scheduler.
type Config struct {
	Feed       domain.FeedSource
	Filter     *classify.Filter
	Classifier *classify.Classifier
	Ledger     *ledger.Ledger
	Executor   *executor.Executor
	Gate       *escalate.Gate
	Runs       domain.RunStore
	// Topic receives every newly detected change.
	Topic *events.Topic[domain.RegulatoryChange]

	Interval     time.Duration
	RetryDelay   time.Duration
	CycleTimeout time.Duration
	Lookback     time.Duration

	Clock   Clock
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Scheduler drives the detection -> classification -> remediation pipeline.
type Scheduler struct {
	cfg     Config
	clock   Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics

	// running enforces the single-active-cycle invariant.
	running atomic.Bool

	// rules guards the hot-swappable filter and classifier pair.
	rulesMu    sync.RWMutex
	filter     *classify.Filter
	classifier *classify.Classifier
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		metrics:    cfg.Metrics,
		filter:     cfg.Filter,
		classifier: cfg.Classifier,
	}
}

// SwapRules atomically replaces the relevance filter and classifier,
// typically after a rules-file hot reload. The new pair takes effect at the
// next cycle.
func (s *Scheduler) SwapRules(filter *classify.Filter, classifier *classify.Classifier) {
	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()
	s.filter = filter
	s.classifier = classifier
	s.logger.Info("classification rules swapped")
}

func (s *Scheduler) rules() (*classify.Filter, *classify.Classifier) {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()
	return s.filter, s.classifier
}

// Run executes cycles on the configured cadence until ctx is canceled. The
// first cycle starts immediately. After a cycle that recorded a feed-level
// failure, the next attempt is scheduled after the short RetryDelay instead
// of the full interval.
func (s *Scheduler) Run(ctx context.Context) {
	delay := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}

		run, err := s.RunCycleNow(ctx)
		switch {
		case errors.Is(err, domain.ErrConcurrentRunRejected):
			// A manual trigger is mid-flight; fall back to the interval.
			delay = s.cfg.Interval
		case err == nil && run.FeedUnavailable:
			// Only a feed outage earns the short retry. Per-publication
			// and per-action failures keep the normal cadence; their
			// changes are picked up again next cycle anyway.
			delay = s.cfg.RetryDelay
			s.logger.Warn("feed unavailable, scheduling short retry", "retry_delay", s.cfg.RetryDelay)
		default:
			delay = s.cfg.Interval
		}
	}
}

// RunCycleNow runs one monitoring cycle immediately. When a cycle is
// already running the request is rejected with ErrConcurrentRunRejected,
// never queued.
func (s *Scheduler) RunCycleNow(ctx context.Context) (*domain.MonitoringRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrConcurrentRunRejected
	}
	defer s.running.Store(false)

	if s.metrics != nil {
		s.metrics.SetCycleRunning(true)
		defer s.metrics.SetCycleRunning(false)
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	run := s.cycle(cycleCtx)

	if s.cfg.Runs != nil {
		// Persist with the parent context: the report must land even when
		// the cycle itself timed out.
		if err := s.cfg.Runs.Append(ctx, run); err != nil {
			s.logger.Error("failed to persist monitoring run", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

// cycle performs one full detection pass and returns its report. All
// per-publication and per-action failures are isolated and recorded in the
// report; only a feed-level failure aborts the pass.
func (s *Scheduler) cycle(ctx context.Context) *domain.MonitoringRun {
	tracer := otel.Tracer("normwatch.scheduler")
	ctx, span := tracer.Start(ctx, "monitor.cycle")
	defer span.End()

	started := s.clock.Now()
	run := &domain.MonitoringRun{
		ID:        uuid.NewString(),
		StartedAt: started,
	}
	s.logger.Info("monitoring cycle started", "run_id", run.ID)

	s.detectAndRemediate(ctx, run)

	run.FinishedAt = s.clock.Now()
	outcome := "success"
	if len(run.Errors) > 0 {
		outcome = "failed"
	}
	if s.metrics != nil {
		s.metrics.RecordCycle(outcome, run.FinishedAt.Sub(run.StartedAt))
	}
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.publications_scanned", run.PublicationsScanned),
		attribute.Int("run.changes_detected", run.ChangesDetected),
		attribute.Int("run.actions_failed", run.ActionsFailed),
	)
	s.logger.Info("monitoring cycle finished",
		"run_id", run.ID, "outcome", outcome,
		"publications_scanned", run.PublicationsScanned,
		"changes_detected", run.ChangesDetected,
		"actions_executed", run.ActionsExecuted,
		"actions_failed", run.ActionsFailed,
		"errors", len(run.Errors))
	return run
}

func (s *Scheduler) detectAndRemediate(ctx context.Context, run *domain.MonitoringRun) {
	now := s.clock.Now()
	pubs, err := s.cfg.Feed.FetchPublications(ctx, now.Add(-s.cfg.Lookback), now)
	if err != nil {
		run.FeedUnavailable = true
		run.Errors = append(run.Errors, fmt.Sprintf("feed fetch: %v", err))
		s.logger.Error("feed fetch failed, aborting cycle", "run_id", run.ID, "error", err)
		return
	}
	run.PublicationsScanned = len(pubs)

	filter, classifier := s.rules()

	dropped := 0
	for _, pub := range pubs {
		if !filter.Relevant(pub) {
			dropped++
			continue
		}
		for _, change := range classifier.Classify(pub) {
			created, err := s.cfg.Ledger.Create(ctx, change)
			if err != nil {
				run.Errors = append(run.Errors, fmt.Sprintf("create change %s: %v", change.ID, err))
				continue
			}
			if !created {
				continue
			}
			run.ChangesDetected++
			if s.metrics != nil {
				s.metrics.RecordChangeDetected(string(change.ChangeType), string(change.ImpactTier))
			}
			if s.cfg.Topic != nil {
				s.cfg.Topic.Publish(change)
			}
			// Critical changes raise their alert before any remediation
			// action runs.
			if s.cfg.Gate != nil {
				s.cfg.Gate.Escalate(ctx, change)
			}
		}
	}
	if s.metrics != nil {
		s.metrics.RecordPublications(len(pubs), dropped)
	}

	s.remediate(ctx, run)
}

// remediate drives every open change toward a terminal lifecycle state.
// This covers changes detected in this cycle and any left mid-flight by an
// earlier aborted cycle.
func (s *Scheduler) remediate(ctx context.Context, run *domain.MonitoringRun) {
	open, err := s.collectOpen(ctx)
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("list open changes: %v", err))
		return
	}

	for _, ch := range open {
		if ch.State == domain.StateDetected {
			if err := s.cfg.Ledger.BeginAnalysis(ctx, ch.ID); err != nil {
				run.Errors = append(run.Errors, fmt.Sprintf("begin analysis %s: %v", ch.ID, err))
				continue
			}
			if err := s.cfg.Ledger.RecordActionPlan(ctx, ch.ID, plan.Plan(*ch)); err != nil {
				run.Errors = append(run.Errors, fmt.Sprintf("record plan %s: %v", ch.ID, err))
				continue
			}
		}
	}

	// Re-read so execution sees recorded plans and current action states.
	analyzing, err := s.cfg.Ledger.List(ctx, domain.StateAnalyzing)
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("list analyzing changes: %v", err))
		return
	}

	res := s.cfg.Executor.ExecuteAll(ctx, analyzing)
	run.ActionsExecuted += res.Executed
	run.ActionsFailed += res.Failed

	for _, ch := range analyzing {
		ready, err := s.cfg.Ledger.TryAdvanceToImplemented(ctx, ch.ID)
		if err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("advance %s: %v", ch.ID, err))
			continue
		}
		if !ready {
			continue
		}
		if ch.ImpactTier == domain.TierCritical {
			if err := s.cfg.Gate.Park(ctx, ch.ID); err != nil {
				run.Errors = append(run.Errors, fmt.Sprintf("park %s: %v", ch.ID, err))
			}
			continue
		}
		if err := s.cfg.Ledger.MarkCommunicated(ctx, ch.ID); err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("communicate %s: %v", ch.ID, err))
		}
	}
}

func (s *Scheduler) collectOpen(ctx context.Context) ([]*domain.RegulatoryChange, error) {
	detected, err := s.cfg.Ledger.List(ctx, domain.StateDetected)
	if err != nil {
		return nil, err
	}
	analyzing, err := s.cfg.Ledger.List(ctx, domain.StateAnalyzing)
	if err != nil {
		return nil, err
	}
	return append(detected, analyzing...), nil
}
