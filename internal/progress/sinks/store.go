package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/progress"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// StoreSink folds progress events into run records and persists them through
// a store.RunRepository. Each touched run is written once per batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*store.RunRecord
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, runs: make(map[string]*store.RunRecord)}
}

// Consume applies the batch and writes the affected runs. Write failures are
// joined and returned after every run has been attempted.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}

	s.mu.Lock()
	var order []string
	touched := make(map[string]struct{})
	finished := make(map[string]struct{})
	for _, evt := range batch {
		if _, ok := touched[evt.RunID]; !ok {
			touched[evt.RunID] = struct{}{}
			order = append(order, evt.RunID)
		}
		s.apply(evt)
		if evt.Stage.Terminal() {
			finished[evt.RunID] = struct{}{}
		}
	}
	writes := make([]store.RunRecord, 0, len(order))
	for _, id := range order {
		writes = append(writes, *s.runs[id])
		if _, done := finished[id]; done {
			delete(s.runs, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, run := range writes {
		if err := s.repo.RecordRun(ctx, run); err != nil {
			errs = append(errs, fmt.Errorf("record run %s: %w", run.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *StoreSink) apply(evt progress.Event) {
	run, ok := s.runs[evt.RunID]
	if !ok {
		run = &store.RunRecord{
			ID:        evt.RunID,
			Source:    evt.Source,
			Status:    store.RunRunning,
			StartedAt: evt.TS,
		}
		s.runs[evt.RunID] = run
	}
	run.FinishedAt = evt.TS

	switch evt.Stage {
	case progress.StageRunStart:
		run.StartedAt = evt.TS
	case progress.StageBatchDone:
		run.Batches++
		run.Processed += evt.Processed
		run.Inserted += evt.Inserted
		run.Skipped += evt.Skipped
		run.Failed += evt.Failed
	case progress.StageRunDone, progress.StageRunError:
		run.Processed = evt.Processed
		run.Inserted = evt.Inserted
		run.Skipped = evt.Skipped
		run.Failed = evt.Failed
		run.Status = store.RunSuccess
		if evt.Canceled {
			run.Status = store.RunCanceled
		}
		if evt.Stage == progress.StageRunError {
			run.Status = store.RunError
			run.Error = evt.Note
		}
	}
}

// Close warns about runs that never reported a terminal event.
func (s *StoreSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.runs {
		s.logger.Warn("run closed without terminal event", zap.String("run_id", id))
	}
	return nil
}
