package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/discovery"
	"github.com/JakeFAU/appgallery-ingest/internal/progress"
	"github.com/JakeFAU/appgallery-ingest/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	hook   func()
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (s *fakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

func (r *recorder) Last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]worker.Outcome
	errs     map[string]error
	panics   map[string]bool
	active   atomic.Int32
	peak     atomic.Int32
	ctxErrs  int
}

func newProcessor() *fakeProcessor {
	return &fakeProcessor{
		outcomes: map[string]worker.Outcome{},
		errs:     map[string]error{},
		panics:   map[string]bool{},
	}
}

func (p *fakeProcessor) Process(ctx context.Context, key catalog.EntityKey) (worker.Outcome, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	p.mu.Lock()
	p.calls = append(p.calls, key.Value)
	if ctx.Err() != nil {
		p.ctxErrs++
	}
	outcome, ok := p.outcomes[key.Value]
	err := p.errs[key.Value]
	panics := p.panics[key.Value]
	p.mu.Unlock()

	if panics {
		panic("boom")
	}
	if err != nil {
		return worker.OutcomeFailed, err
	}
	if !ok {
		outcome = worker.OutcomeInserted
	}
	return outcome, nil
}

func (p *fakeProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("C%d", i)
	}
	return out
}

func newScheduler(p Processor, r progress.Emitter, s *fakeSleeper) *Scheduler {
	return New(p, r, fixedIDs{}, &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}, s, nil)
}

func TestRunBatchesCeilKOverB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		k, b, batches int
	}{
		{k: 10, b: 5, batches: 2},
		{k: 11, b: 5, batches: 3},
		{k: 1, b: 5, batches: 1},
		{k: 0, b: 5, batches: 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d/%d", tc.k, tc.b), func(t *testing.T) {
			t.Parallel()
			proc := newProcessor()
			rec := &recorder{}
			sleeper := &fakeSleeper{}
			s := newScheduler(proc, rec, sleeper)

			sum, err := s.Run(context.Background(), discovery.Strings(keys(tc.k)...),
				Options{Name: "test", BatchSize: tc.b, Cooldown: 25 * time.Millisecond})
			require.NoError(t, err)
			require.Equal(t, int64(tc.batches), sum.Batches)
			require.Equal(t, int64(tc.k), sum.Processed)
			require.Equal(t, int64(tc.k), sum.Inserted)
			require.Equal(t, tc.k, proc.Calls())
			require.LessOrEqual(t, int(proc.peak.Load()), tc.b)
			require.False(t, sum.Canceled)
			require.Equal(t, "run-1", sum.RunID)

			cooldowns := max(tc.batches-1, 0)
			require.Len(t, sleeper.Sleeps(), cooldowns)
			for _, d := range sleeper.Sleeps() {
				require.Equal(t, 25*time.Millisecond, d)
			}

			stages := rec.Stages()
			require.Len(t, stages, tc.batches+2)
			require.Equal(t, progress.StageRunStart, stages[0])
			require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
		})
	}
}

func TestRunFailureIsolation(t *testing.T) {
	t.Parallel()

	proc := newProcessor()
	proc.errs["C1"] = errors.New("decode failed")
	proc.panics["C2"] = true
	proc.outcomes["C3"] = worker.OutcomeSkipped
	rec := &recorder{}
	s := newScheduler(proc, rec, &fakeSleeper{})

	sum, err := s.Run(context.Background(), discovery.Strings(keys(6)...), Options{BatchSize: 3})
	require.NoError(t, err)
	require.Equal(t, int64(6), sum.Processed)
	require.Equal(t, int64(2), sum.Failed)
	require.Equal(t, int64(1), sum.Skipped)
	require.Equal(t, int64(3), sum.Inserted)
	require.Equal(t, int64(2), sum.Batches)

	last := rec.Last()
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, int64(2), last.Failed)
	require.Equal(t, "adhoc", last.Source)
}

func TestRunStopsOnCredentialLoss(t *testing.T) {
	t.Parallel()

	proc := newProcessor()
	proc.errs["C4"] = fmt.Errorf("fetch: %w", catalog.ErrCredentialsUnavailable)
	rec := &recorder{}
	sleeper := &fakeSleeper{}
	s := newScheduler(proc, rec, sleeper)

	sum, err := s.Run(context.Background(), discovery.Strings(keys(20)...), Options{BatchSize: 3})
	require.ErrorIs(t, err, catalog.ErrCredentialsUnavailable)
	// C4 sits in the second batch; the batch still finishes.
	require.Equal(t, int64(2), sum.Batches)
	require.Equal(t, int64(6), sum.Processed)
	require.Equal(t, 6, proc.Calls())
	require.Equal(t, int64(1), sum.Failed)
	require.Len(t, sleeper.Sleeps(), 1)

	last := rec.Last()
	require.Equal(t, progress.StageRunError, last.Stage)
	require.Contains(t, last.Note, "credentials")
}

func TestRunCancellationAtBatchBoundary(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := newProcessor()
	rec := &recorder{}
	sleeper := &fakeSleeper{hook: cancel}
	s := newScheduler(proc, rec, sleeper)

	sum, err := s.Run(ctx, discovery.Strings(keys(10)...), Options{BatchSize: 4, Cooldown: time.Second})
	require.NoError(t, err)
	require.True(t, sum.Canceled)
	require.Equal(t, int64(1), sum.Batches)
	require.Equal(t, 4, proc.Calls())
	require.True(t, rec.Last().Canceled)
}

func TestRunAlreadyCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := newProcessor()
	s := newScheduler(proc, nil, &fakeSleeper{})

	sum, err := s.Run(ctx, discovery.Strings(keys(3)...), Options{BatchSize: 2})
	require.NoError(t, err)
	require.True(t, sum.Canceled)
	require.Zero(t, proc.Calls())
}

type cancelingProcessor struct {
	*fakeProcessor
	cancel context.CancelFunc
}

func (c cancelingProcessor) Process(ctx context.Context, key catalog.EntityKey) (worker.Outcome, error) {
	c.cancel()
	return c.fakeProcessor.Process(ctx, key)
}

func TestRunTasksDetachedFromCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := newProcessor()
	s := newScheduler(cancelingProcessor{fakeProcessor: proc, cancel: cancel}, nil, &fakeSleeper{})

	sum, err := s.Run(ctx, discovery.Strings(keys(4)...), Options{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), sum.Inserted)
	require.True(t, sum.Canceled)
	require.Zero(t, proc.ctxErrs)
}

func TestRunMaxBatchesBoundsUnboundedSource(t *testing.T) {
	t.Parallel()

	proc := newProcessor()
	rec := &recorder{}
	s := newScheduler(proc, rec, &fakeSleeper{})

	sum, err := s.Run(context.Background(), discovery.NewRandom("C", 100, 1000, 1), Options{BatchSize: 5, MaxBatches: 3})
	require.NoError(t, err)
	require.Equal(t, int64(3), sum.Batches)
	require.Equal(t, 15, proc.Calls())
	require.Equal(t, int64(-1), rec.events[0].Total)
}

func TestRunRejectsBadBatchSize(t *testing.T) {
	t.Parallel()

	s := newScheduler(newProcessor(), nil, &fakeSleeper{})
	_, err := s.Run(context.Background(), discovery.Strings("C1"), Options{})
	require.Error(t, err)
}

func TestBatchEventsCarryETA(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := newScheduler(newProcessor(), rec, &fakeSleeper{})
	_, err := s.Run(context.Background(), discovery.Strings(keys(9)...), Options{BatchSize: 3})
	require.NoError(t, err)

	var batches []progress.Event
	for _, e := range rec.events {
		if e.Stage == progress.StageBatchDone {
			batches = append(batches, e)
		}
	}
	require.Len(t, batches, 3)
	require.Positive(t, batches[0].ETA)
	require.Zero(t, batches[2].ETA)
	require.Equal(t, int64(3), batches[2].Batch)
}

func TestETA(t *testing.T) {
	t.Parallel()

	opts := Options{BatchSize: 10}
	require.Equal(t, 4*time.Second, eta(2*time.Second, 2, 35, opts))
	require.Zero(t, eta(time.Second, 1, 0, opts))
	opts.MaxBatches = 2
	require.Equal(t, time.Second, eta(time.Second, 1, 100, opts))
}
