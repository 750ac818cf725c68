package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normwatch/normwatch-oss/internal/governance"
	"github.com/normwatch/normwatch-oss/pkg/classify"
	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/escalate"
	"github.com/normwatch/normwatch-oss/pkg/events"
	"github.com/normwatch/normwatch-oss/pkg/executor"
	"github.com/normwatch/normwatch-oss/pkg/feed"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/storage"
)

// okHandlers succeed at everything and count alert deliveries.
type okHandlers struct {
	mu     sync.Mutex
	alerts int
	sends  int
}

func (h *okHandlers) Regenerate(context.Context, domain.Domain, domain.RegulatoryChange) error {
	return nil
}
func (h *okHandlers) Generate(context.Context, domain.RegulatoryChange) error { return nil }
func (h *okHandlers) Schedule(context.Context, domain.RegulatoryChange) error { return nil }
func (h *okHandlers) Send(context.Context, string, domain.RegulatoryChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends++
	return nil
}
func (h *okHandlers) Alert(context.Context, domain.RegulatoryChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts++
	return nil
}

func (h *okHandlers) alertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alerts
}

type fixture struct {
	sched *Scheduler
	led   *ledger.Ledger
	runs  *storage.MemoryRunStore
	feed  *feed.StaticFeedSource
	h     *okHandlers
	gate  *escalate.Gate
	clock *FakeClock
}

func newFixture(t *testing.T, pubs ...domain.Publication) *fixture {
	return newFixtureWithStore(t, storage.NewMemoryChangeStore(), pubs...)
}

func newFixtureWithStore(t *testing.T, store domain.ChangeStore, pubs ...domain.Publication) *fixture {
	t.Helper()

	rules := classify.DefaultRuleSet()
	classifier, err := classify.NewClassifier(rules, nil)
	require.NoError(t, err)

	led := ledger.New(ledger.Config{Store: store, MaxAttempts: 3})
	h := &okHandlers{}
	exec := executor.New(executor.Config{
		Ledger: led,
		Handlers: executor.Handlers{
			Templates: h, Protocols: h, Training: h, Notifier: h,
		},
		Recipients: []string{"coordinator@club.example"},
		Retry:      governance.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Jitter: false},
	})
	gate := escalate.New(escalate.Config{Ledger: led, Alerter: h})
	runs := storage.NewMemoryRunStore(0)
	src := feed.NewStaticFeedSource(pubs...)
	clock := NewFakeClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	sched := New(Config{
		Feed:       src,
		Filter:     classify.NewFilter(rules.RelevanceKeywords),
		Classifier: classifier,
		Ledger:     led,
		Executor:   exec,
		Gate:       gate,
		Runs:       runs,
		Topic:      events.NewTopic[domain.RegulatoryChange](),
		Interval:   6 * time.Hour,
		RetryDelay: 15 * time.Minute,
		Clock:      clock,
	})
	return &fixture{sched: sched, led: led, runs: runs, feed: src, h: h, gate: gate, clock: clock}
}

func pubAt(clock *FakeClock, source, text string) domain.Publication {
	return domain.Publication{
		ID:               source,
		SourceIdentifier: source,
		PublishedAt:      clock.Now().Add(-time.Hour),
		RawText:          text,
	}
}

func TestScheduler_FullPipelineNonCritical(t *testing.T) {
	f := newFixture(t)
	f.feed.Add(pubAt(f.clock, "BOE-A-2026-10", "se modifica el código de conducta deportivo"))

	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.PublicationsScanned)
	assert.Equal(t, 1, run.ChangesDetected)
	assert.Zero(t, run.ActionsFailed)
	assert.Empty(t, run.Errors)

	changes, err := f.led.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	// High tier (conduct code keyword) is not critical: fully automatic
	// through to Communicated.
	assert.Equal(t, domain.StateCommunicated, changes[0].State)
	assert.Zero(t, f.h.alertCount())
}

func TestScheduler_IrrelevantPublicationYieldsNoChanges(t *testing.T) {
	f := newFixture(t)
	f.feed.Add(pubAt(f.clock, "BOE-A-2026-11", "orden sobre subvenciones al transporte"))

	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.PublicationsScanned)
	assert.Zero(t, run.ChangesDetected)

	changes, err := f.led.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestScheduler_CriticalChangeParksAwaitingValidation(t *testing.T) {
	f := newFixture(t)
	f.feed.Add(pubAt(f.clock, "BOE-A-2026-12",
		"se aprueba nuevo protocolo de actuación para delegados de protección, vigencia inmediata"))

	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.ChangesDetected)
	assert.Equal(t, 1, f.h.alertCount())

	changes, err := f.led.List(context.Background(), domain.StateAwaitingValidation)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	ch := changes[0]
	assert.Equal(t, domain.TierCritical, ch.ImpactTier)

	// Blocked until a validator signs off.
	err = f.led.MarkCommunicated(context.Background(), ch.ID)
	assert.ErrorIs(t, err, domain.ErrValidationPending)

	require.NoError(t, f.gate.RecordValidation(context.Background(), ch.ID, "dpo@federacion.example"))
	require.NoError(t, f.led.MarkCommunicated(context.Background(), ch.ID))
}

func TestScheduler_TwoCyclesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.feed.Add(pubAt(f.clock, "BOE-A-2026-13", "se modifica el protocolo de actuación en desplazamientos"))

	first, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ChangesDetected)

	second, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.ChangesDetected)

	changes, err := f.led.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestScheduler_ConcurrentRunRejected(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	blocking := &blockingFeed{release: release}
	f.sched.cfg.Feed = blocking

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := f.sched.RunCycleNow(context.Background())
		assert.NoError(t, err)
	}()

	<-blocking.started()

	_, err := f.sched.RunCycleNow(context.Background())
	assert.ErrorIs(t, err, domain.ErrConcurrentRunRejected)

	close(release)
	<-firstDone

	// Once idle again, a new cycle is accepted.
	_, err = f.sched.RunCycleNow(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_FeedOutageRecordedInReport(t *testing.T) {
	f := newFixture(t)
	f.feed.Fail(domain.ErrFeedUnavailable)

	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "feed")
	assert.True(t, run.FeedUnavailable)
	assert.Zero(t, run.PublicationsScanned)

	// The report is persisted even for failed cycles.
	got, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Errors, got.Errors)
}

func TestScheduler_RunLoopUsesShortRetryAfterFeedOutage(t *testing.T) {
	f := newFixture(t)
	f.feed.Fail(domain.ErrFeedUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	// First cycle fires immediately and fails.
	waitForRuns(t, f.runs, 1)

	// A short retry (15m) is scheduled instead of the full 6h interval.
	f.feed.Fail(nil)
	f.clock.BlockUntil(1)
	f.clock.Advance(16 * time.Minute)
	waitForRuns(t, f.runs, 2)

	// After the successful retry the cadence returns to the full interval:
	// another 16 minutes must not trigger a cycle.
	f.clock.BlockUntil(1)
	f.clock.Advance(16 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	runs, err := f.runs.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	f.clock.Advance(6 * time.Hour)
	waitForRuns(t, f.runs, 3)
}

func TestScheduler_ResumesChangesLeftMidFlight(t *testing.T) {
	f := newFixture(t)

	// Simulate an aborted earlier cycle: a change created but never driven
	// through analysis.
	ch := domain.RegulatoryChange{
		ID:               domain.ChangeID("BOE-A-2026-14", domain.ChangeAmendment),
		SourceIdentifier: "BOE-A-2026-14",
		ChangeType:       domain.ChangeAmendment,
		ImpactTier:       domain.TierMedium,
	}
	_, err := f.led.Create(context.Background(), ch)
	require.NoError(t, err)

	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.ChangesDetected) // nothing new from the feed

	got, err := f.led.Get(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCommunicated, got.State)
}

func waitForRuns(t *testing.T, runs *storage.MemoryRunStore, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		got, err := runs.Recent(context.Background(), want+1)
		require.NoError(t, err)
		if len(got) >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d runs, have %d", want, len(got))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// blockingFeed blocks fetches until released, to hold a cycle in Running.
type blockingFeed struct {
	once      sync.Once
	closeOnce sync.Once
	startedCh chan struct{}
	release   chan struct{}
}

func (b *blockingFeed) started() chan struct{} {
	b.once.Do(func() { b.startedCh = make(chan struct{}) })
	return b.startedCh
}

func (b *blockingFeed) FetchPublications(ctx context.Context, _, _ time.Time) ([]domain.Publication, error) {
	b.closeOnce.Do(func() { close(b.started()) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

// haltingTemplates parks document regeneration until the call context is
// canceled, signalling entry so tests can cancel a cycle mid-execution.
type haltingTemplates struct {
	entered chan struct{}
}

func (h *haltingTemplates) Regenerate(ctx context.Context, _ domain.Domain, _ domain.RegulatoryChange) error {
	select {
	case h.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestScheduler_CanceledCycleIsFinishedByNextCycle(t *testing.T) {
	f := newFixture(t)
	f.feed.Add(pubAt(f.clock, "BOE-A-2026-15", "se modifica el código de conducta deportivo"))

	halting := &haltingTemplates{entered: make(chan struct{}, 1)}
	orig := f.sched.cfg.Executor
	f.sched.cfg.Executor = executor.New(executor.Config{
		Ledger: f.led,
		Handlers: executor.Handlers{
			Templates: halting, Protocols: f.h, Training: f.h, Notifier: f.h,
		},
		Recipients: []string{"coordinator@club.example"},
		Retry:      governance.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Jitter: false},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.sched.RunCycleNow(ctx)
		assert.NoError(t, err)
	}()
	<-halting.entered
	cancel()
	<-done

	// The interrupted change stays in Analyzing with its document work
	// still owed, not written off as failed.
	analyzing, err := f.led.List(context.Background(), domain.StateAnalyzing)
	require.NoError(t, err)
	require.Len(t, analyzing, 1)
	for _, a := range analyzing[0].Actions {
		assert.NotEqual(t, domain.ActionFailed, a.State, "action %s", a.ID)
	}

	// The next cycle, with the handler healthy again, drives the change to
	// a terminal lifecycle state.
	f.sched.cfg.Executor = orig
	run, err := f.sched.RunCycleNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.ChangesDetected) // same publication, no new change

	got, err := f.led.Get(context.Background(), analyzing[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCommunicated, got.State)
	for _, a := range got.Actions {
		assert.Equal(t, domain.ActionExecuted, a.State, "action %s", a.ID)
	}
}

// faultyListStore fails listings of Analyzing changes while armed, leaving
// feed fetches untouched.
type faultyListStore struct {
	domain.ChangeStore
	failAnalyzing atomic.Bool
}

func (s *faultyListStore) List(ctx context.Context, state domain.ChangeState) ([]*domain.RegulatoryChange, error) {
	if state == domain.StateAnalyzing && s.failAnalyzing.Load() {
		return nil, errors.New("index rebuild in progress")
	}
	return s.ChangeStore.List(ctx, state)
}

func TestScheduler_NonFeedErrorsKeepNormalCadence(t *testing.T) {
	store := &faultyListStore{ChangeStore: storage.NewMemoryChangeStore()}
	store.failAnalyzing.Store(true)
	f := newFixtureWithStore(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	// First cycle fires immediately; the feed is fine but the cycle records
	// a store error.
	waitForRuns(t, f.runs, 1)
	runs, err := f.runs.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, runs[0].Errors)
	assert.False(t, runs[0].FeedUnavailable)

	// No short retry for non-feed errors: 16 minutes later nothing runs.
	store.failAnalyzing.Store(false)
	f.clock.BlockUntil(1)
	f.clock.Advance(16 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	runs, err = f.runs.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// The full interval does.
	f.clock.Advance(6 * time.Hour)
	waitForRuns(t, f.runs, 2)
}
