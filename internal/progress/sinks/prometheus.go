package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/appgallery-ingest/internal/progress"
)

// PrometheusSink exports run and batch progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	candidates    *prometheus.CounterVec
	eta           *prometheus.GaugeVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_started_total",
			Help: "Scheduler runs started, by discovery source.",
		}, []string{"source"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_completed_total",
			Help: "Scheduler runs finished, by discovery source and result.",
		}, []string{"source", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_runs_running",
			Help: "Scheduler runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Batches completed, by discovery source.",
		}, []string{"source"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Wall time per batch including the join barrier.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batch_candidates_total",
			Help: "Candidates processed in batches, by discovery source and outcome.",
		}, []string{"source", "outcome"}),
		eta: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_run_eta_seconds",
			Help: "Estimated time left for finite runs.",
		}, []string{"source"}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runDuration,
		s.batches, s.batchDuration, s.candidates, s.eta,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		source := evt.Source
		if source == "" {
			source = "unknown"
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(source).Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageBatchDone:
			s.batches.WithLabelValues(source).Inc()
			s.batchDuration.Observe(evt.Dur.Seconds())
			s.candidates.WithLabelValues(source, "inserted").Add(float64(evt.Inserted))
			s.candidates.WithLabelValues(source, "skipped").Add(float64(evt.Skipped))
			s.candidates.WithLabelValues(source, "failed").Add(float64(evt.Failed))
			if evt.ETA > 0 {
				s.eta.WithLabelValues(source).Set(evt.ETA.Seconds())
			}
		case progress.StageRunDone, progress.StageRunError:
			result := runResult(evt)
			s.runsCompleted.WithLabelValues(source, result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			s.eta.WithLabelValues(source).Set(0)
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

// track records a run starting or ending and reports whether the running set
// changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	if start {
		if ok {
			return false
		}
		s.running[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, runID)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func runResult(evt progress.Event) string {
	switch {
	case evt.Stage == progress.StageRunError:
		return "error"
	case evt.Canceled:
		return "canceled"
	default:
		return "success"
	}
}
