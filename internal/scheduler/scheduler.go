// Package scheduler runs discovery candidates through the worker in fixed
// batches separated by a cooldown.
//
// Every candidate of a batch runs on its own goroutine and the next batch does
// not start until all of them return. In-flight tasks are detached from the
// run's cancellation so a shutdown never abandons a half-written ingest;
// cancellation takes effect at the next batch boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/discovery"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
	"github.com/JakeFAU/appgallery-ingest/internal/progress"
	"github.com/JakeFAU/appgallery-ingest/internal/worker"
)

// Processor handles one candidate.
type Processor interface {
	Process(ctx context.Context, key catalog.EntityKey) (worker.Outcome, error)
}

// Options configure one run.
type Options struct {
	// Name labels the run in logs, metrics and run history.
	Name      string
	BatchSize int
	Cooldown  time.Duration
	// MaxBatches stops the run after this many batches. Zero means no limit.
	MaxBatches int
}

// Summary reports what a run did.
type Summary struct {
	RunID     string        `json:"run_id"`
	Processed int64         `json:"processed"`
	Inserted  int64         `json:"inserted"`
	Skipped   int64         `json:"skipped"`
	Failed    int64         `json:"failed"`
	Batches   int64         `json:"batches"`
	Elapsed   time.Duration `json:"elapsed"`
	Canceled  bool          `json:"canceled"`
}

// Scheduler drives batch runs.
type Scheduler struct {
	proc    Processor
	emitter progress.Emitter
	ids     catalog.IDGenerator
	clock   catalog.Clock
	sleeper catalog.Sleeper
	logger  *zap.Logger
}

// New constructs a Scheduler. A nil emitter discards progress events.
func New(
	proc Processor,
	emitter progress.Emitter,
	ids catalog.IDGenerator,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	logger *zap.Logger,
) *Scheduler {
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		proc:    proc,
		emitter: emitter,
		ids:     ids,
		clock:   clock,
		sleeper: sleeper,
		logger:  logger.Named("scheduler"),
	}
}

// Run drains src in batches of opts.BatchSize. Losing credentials stops the
// run after the current batch and is returned with the partial summary.
// Cancellation is not an error: the summary comes back with Canceled set.
func (s *Scheduler) Run(ctx context.Context, src discovery.Source, opts Options) (Summary, error) {
	if opts.BatchSize <= 0 {
		return Summary{}, errors.New("batch size must be > 0")
	}
	if opts.Name == "" {
		opts.Name = "adhoc"
	}
	runID, err := s.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}

	sum := Summary{RunID: runID}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("source", opts.Name))
	started := s.clock.Now()
	total := src.Len()
	s.emit(progress.Event{RunID: runID, TS: started, Stage: progress.StageRunStart, Source: opts.Name, Total: int64(total)})
	logger.Info("run started", zap.Int("candidates", total), zap.Int("batch_size", opts.BatchSize))

	var runErr error
	batch := pull(src, opts.BatchSize)
	for len(batch) > 0 {
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}

		batchStart := s.clock.Now()
		res := s.runBatch(ctx, batch, logger)
		sum.Batches++
		sum.Processed += int64(len(batch))
		sum.Inserted += res.inserted
		sum.Skipped += res.skipped
		sum.Failed += res.failed
		s.reportBatch(logger, &sum, res, opts, src.Len(), started, batchStart)

		if res.credErr != nil {
			runErr = res.credErr
			break
		}
		if opts.MaxBatches > 0 && sum.Batches >= int64(opts.MaxBatches) {
			break
		}
		next := pull(src, opts.BatchSize)
		if len(next) == 0 {
			break
		}
		if err := s.sleeper.Sleep(ctx, opts.Cooldown); err != nil {
			sum.Canceled = true
			break
		}
		batch = next
	}

	sum.Elapsed = s.clock.Now().Sub(started)
	final := progress.Event{
		RunID:     runID,
		TS:        s.clock.Now(),
		Stage:     progress.StageRunDone,
		Source:    opts.Name,
		Processed: sum.Processed,
		Inserted:  sum.Inserted,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Dur:       sum.Elapsed,
		Canceled:  sum.Canceled,
	}
	fields := []zap.Field{
		zap.Int64("batches", sum.Batches),
		zap.Int64("processed", sum.Processed),
		zap.Int64("inserted", sum.Inserted),
		zap.Int64("skipped", sum.Skipped),
		zap.Int64("failed", sum.Failed),
		zap.Duration("elapsed", sum.Elapsed),
	}
	if runErr != nil {
		final.Stage = progress.StageRunError
		final.Note = runErr.Error()
		s.emit(final)
		logger.Error("run stopped", append(fields, zap.Error(runErr))...)
		return sum, fmt.Errorf("run %s stopped: %w", runID, runErr)
	}
	s.emit(final)
	logger.Info("run finished", append(fields, zap.Bool("canceled", sum.Canceled))...)
	return sum, nil
}

type batchResult struct {
	inserted, skipped, failed int64
	credErr                   error
}

func (s *Scheduler) runBatch(ctx context.Context, batch []catalog.EntityKey, logger *zap.Logger) batchResult {
	taskCtx := context.WithoutCancel(ctx)

	var (
		mu  sync.Mutex
		res batchResult
		wg  sync.WaitGroup
	)
	record := func(key catalog.EntityKey, outcome worker.Outcome, err error) {
		metrics.ObserveCandidate(string(outcome))
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case worker.OutcomeInserted:
			res.inserted++
		case worker.OutcomeSkipped:
			res.skipped++
		default:
			res.failed++
			logger.Warn("candidate failed", zap.String("candidate", key.String()), zap.Error(err))
			if errors.Is(err, catalog.ErrCredentialsUnavailable) && res.credErr == nil {
				res.credErr = err
			}
		}
	}

	for _, key := range batch {
		wg.Add(1)
		go func(key catalog.EntityKey) {
			defer wg.Done()
			metrics.IncActiveTasks()
			defer metrics.DecActiveTasks()
			defer func() {
				if r := recover(); r != nil {
					record(key, worker.OutcomeFailed, fmt.Errorf("panic: %v", r))
				}
			}()
			outcome, err := s.proc.Process(taskCtx, key)
			if err != nil {
				outcome = worker.OutcomeFailed
			}
			record(key, outcome, err)
		}(key)
	}
	wg.Wait()
	return res
}

func (s *Scheduler) reportBatch(
	logger *zap.Logger,
	sum *Summary,
	res batchResult,
	opts Options,
	remaining int,
	started, batchStart time.Time,
) {
	now := s.clock.Now()
	batchDur := now.Sub(batchStart)
	elapsed := now.Sub(started)

	evt := progress.Event{
		RunID:     sum.RunID,
		TS:        now,
		Stage:     progress.StageBatchDone,
		Source:    opts.Name,
		Batch:     sum.Batches,
		Processed: res.inserted + res.skipped + res.failed,
		Inserted:  res.inserted,
		Skipped:   res.skipped,
		Failed:    res.failed,
		Dur:       batchDur,
	}
	fields := []zap.Field{
		zap.Int64("batch", sum.Batches),
		zap.Int64("inserted", res.inserted),
		zap.Int64("skipped", res.skipped),
		zap.Int64("failed", res.failed),
		zap.Duration("batch_dur", batchDur),
	}
	if remaining >= 0 {
		evt.ETA = eta(elapsed, sum.Batches, remaining, opts)
		fields = append(fields, zap.Int("remaining", remaining), zap.Duration("eta", evt.ETA))
	} else {
		fields = append(fields, zap.Float64("per_second", throughput(sum.Processed, elapsed)))
	}
	s.emit(evt)
	logger.Info("batch done", fields...)
}

func (s *Scheduler) emit(evt progress.Event) {
	s.emitter.Emit(evt)
}

// eta projects the average batch time, cooldown included, over the batches
// still needed for remaining candidates.
func eta(elapsed time.Duration, batches int64, remaining int, opts Options) time.Duration {
	if batches <= 0 || remaining <= 0 {
		return 0
	}
	left := (remaining + opts.BatchSize - 1) / opts.BatchSize
	if opts.MaxBatches > 0 {
		left = min(left, opts.MaxBatches-int(batches))
	}
	if left <= 0 {
		return 0
	}
	return time.Duration(int64(elapsed) / batches * int64(left))
}

func throughput(processed int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(processed) / elapsed.Seconds()
}

func pull(src discovery.Source, n int) []catalog.EntityKey {
	batch := make([]catalog.EntityKey, 0, n)
	for len(batch) < n {
		key, ok := src.Next()
		if !ok {
			break
		}
		batch = append(batch, key)
	}
	return batch
}
