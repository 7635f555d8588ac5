package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageBatchDone Stage = "BATCH_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError
}

// Event is one scheduler milestone.
type Event struct {
	// RunID identifies the scheduler run.
	RunID string
	// TS is the UTC time the emitter recorded the event.
	TS time.Time
	Stage Stage
	// Source names the discovery strategy feeding the run.
	Source string
	// Batch is the 1-based batch index on BATCH_DONE.
	Batch int64
	// Total is the number of candidates expected on RUN_START, or -1 when the
	// source is unbounded.
	Total int64

	// Counters are per-batch deltas on BATCH_DONE and run totals on RUN_DONE
	// and RUN_ERROR.
	Processed int64
	Inserted  int64
	Skipped   int64
	Failed    int64

	// Dur is the batch wall time on BATCH_DONE and the run wall time on
	// terminal stages.
	Dur time.Duration
	// ETA is the estimated time left after a batch of a finite run.
	ETA time.Duration
	// Canceled marks a RUN_DONE caused by context cancellation.
	Canceled bool
	// Note carries the error text on RUN_ERROR.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageBatchDone:
		if e.Batch <= 0 {
			return errors.New("batch done requires a positive batch index")
		}
	case StageRunError:
		if e.Note == "" {
			return errors.New("run error requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Processed < 0 || e.Inserted < 0 || e.Skipped < 0 || e.Failed < 0 {
		return errors.New("counters must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
