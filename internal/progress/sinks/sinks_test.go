package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/appgallery-ingest/internal/progress"
	"github.com/JakeFAU/appgallery-ingest/internal/storage/memory"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func runEvents(runID string) []progress.Event {
	return []progress.Event{
		{RunID: runID, TS: t0, Stage: progress.StageRunStart, Source: "sequential", Total: 20},
		{
			RunID: runID, TS: t0.Add(time.Second), Stage: progress.StageBatchDone, Source: "sequential",
			Batch: 1, Processed: 10, Inserted: 3, Skipped: 6, Failed: 1, Dur: time.Second, ETA: time.Second,
		},
		{
			RunID: runID, TS: t0.Add(2 * time.Second), Stage: progress.StageBatchDone, Source: "sequential",
			Batch: 2, Processed: 10, Inserted: 1, Skipped: 9, Dur: time.Second,
		},
		{
			RunID: runID, TS: t0.Add(3 * time.Second), Stage: progress.StageRunDone, Source: "sequential",
			Processed: 20, Inserted: 4, Skipped: 15, Failed: 1, Dur: 3 * time.Second,
		},
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	events := runEvents("run-1")
	require.NoError(t, sink.Consume(context.Background(), events[:2]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.eta.WithLabelValues("sequential")))

	require.NoError(t, sink.Consume(context.Background(), events[2:]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("sequential")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("sequential", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.batches.WithLabelValues("sequential")))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.candidates.WithLabelValues("sequential", "inserted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.candidates.WithLabelValues("sequential", "failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.eta.WithLabelValues("sequential")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.batchDuration, "ingest_batch_duration_seconds"))
}

func TestPrometheusSinkResults(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "a", TS: t0, Stage: progress.StageRunDone, Source: "random", Canceled: true},
		{RunID: "b", TS: t0, Stage: progress.StageRunError, Source: "random", Note: "credentials"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("random", "canceled")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("random", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestStoreSinkPersistsRunHistory(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	ctx := context.Background()
	events := runEvents("run-1")

	require.NoError(t, sink.Consume(ctx, events[:2]))
	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunRunning, runs[0].Status)
	require.Equal(t, int64(1), runs[0].Batches)
	require.Equal(t, int64(3), runs[0].Inserted)
	require.Equal(t, t0, runs[0].StartedAt)

	require.NoError(t, sink.Consume(ctx, events[2:]))
	runs, err = repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, "sequential", run.Source)
	require.Equal(t, int64(2), run.Batches)
	require.Equal(t, int64(20), run.Processed)
	require.Equal(t, int64(15), run.Skipped)
	require.Equal(t, t0.Add(3*time.Second), run.FinishedAt)
	require.Empty(t, sink.runs)
}

func TestStoreSinkErrorAndCanceledRuns(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	ctx := context.Background()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: "a", TS: t0, Stage: progress.StageRunStart, Source: "random"},
		{RunID: "b", TS: t0.Add(time.Minute), Stage: progress.StageRunStart, Source: "packages"},
		{RunID: "a", TS: t0.Add(time.Second), Stage: progress.StageRunDone, Canceled: true},
		{RunID: "b", TS: t0.Add(2 * time.Minute), Stage: progress.StageRunError, Note: "credentials unavailable"},
	}))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].ID)
	require.Equal(t, store.RunError, runs[0].Status)
	require.Equal(t, "credentials unavailable", runs[0].Error)
	require.Equal(t, store.RunCanceled, runs[1].Status)
}

type failingRunRepo struct {
	mu    sync.Mutex
	calls int
}

func (f *failingRunRepo) RecordRun(context.Context, store.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("db down")
}

func (f *failingRunRepo) ListRuns(context.Context, int) ([]store.RunRecord, error) {
	return nil, nil
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &failingRunRepo{}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "a", TS: t0, Stage: progress.StageRunStart},
		{RunID: "b", TS: t0, Stage: progress.StageRunStart},
	})
	require.ErrorContains(t, err, "record run a")
	require.ErrorContains(t, err, "record run b")
	require.Equal(t, 2, repo.calls)
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), runEvents("x")))
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	events := append(runEvents("run-1"), progress.Event{
		RunID: "run-2", TS: t0, Stage: progress.StageRunError, Note: "boom",
	})
	require.NoError(t, sink.Consume(context.Background(), events))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 5)
	require.Equal(t, "BATCH_DONE", entries[1].ContextMap()["stage"])
	require.Equal(t, int64(1), entries[1].ContextMap()["batch"])
	require.Equal(t, zapcore.WarnLevel, entries[4].Level)
	require.Equal(t, "boom", entries[4].ContextMap()["note"])
}
