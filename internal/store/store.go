package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// IngestOptions carries caller-supplied annotations applied to the info row.
type IngestOptions struct {
	// ListedAt overrides the listing timestamp kept on the info row.
	ListedAt *time.Time
	// Comment attaches a free-form JSON annotation to the info row.
	Comment json.RawMessage
}

func (o IngestOptions) overrides() bool {
	return o.ListedAt != nil || !catalog.EmptyJSON(o.Comment)
}

// IngestResult reports what an ingest wrote and the resulting projections.
type IngestResult struct {
	InfoChanged   bool `json:"info_changed"`
	MetricChanged bool `json:"metric_changed"`
	RatingChanged bool `json:"rating_changed"`
	// IsNew is true when the entity had never been stored before.
	IsNew bool `json:"is_new"`

	Info   catalog.EntityInfo    `json:"info"`
	Metric *catalog.EntityMetric `json:"metric,omitempty"`
	Rating *catalog.EntityRating `json:"rating,omitempty"`
}

// Changed reports whether any projection was written.
func (r IngestResult) Changed() bool {
	return r.InfoChanged || r.MetricChanged || r.RatingChanged
}

// EntityView is the latest stored state of one entity.
type EntityView struct {
	Info   catalog.EntityInfo    `json:"info"`
	Metric *catalog.EntityMetric `json:"metric,omitempty"`
	Rating *catalog.EntityRating `json:"rating,omitempty"`
}

// RawSnapshot is one append-only record of the fetched documents.
type RawSnapshot struct {
	AppID     string
	Data      json.RawMessage
	Star      json.RawMessage
	CreatedAt time.Time
}

// ChangeAwareStore persists fetched entities, writing only what changed.
type ChangeAwareStore interface {
	// Ingest compares doc and rating against the stored baseline and writes the
	// differing projections plus a raw snapshot, atomically.
	Ingest(
		ctx context.Context,
		doc *catalog.RawDocument,
		rating *catalog.RatingDocument,
		opts IngestOptions,
	) (IngestResult, error)
	// Lookup returns the stored projections or ErrNotFound.
	Lookup(ctx context.Context, key catalog.EntityKey) (EntityView, error)
	// KnownAppIDs lists every stored canonical identifier.
	KnownAppIDs(ctx context.Context) ([]string, error)
	// KnownPackages lists every stored package name.
	KnownPackages(ctx context.Context) ([]string, error)
}

// RunStatus mirrors the ingest_runs status column.
type RunStatus string

// Run statuses persisted in ingest_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunCanceled RunStatus = "canceled"
	RunError    RunStatus = "error"
)

// RunRecord models one scheduler run for history and API responses.
type RunRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int64     `json:"processed"`
	Inserted   int64     `json:"inserted"`
	Skipped    int64     `json:"skipped"`
	Failed     int64     `json:"failed"`
	Batches    int64     `json:"batches"`
	Error      string    `json:"error,omitempty"`
}

// RunRepository persists run history.
type RunRepository interface {
	// RecordRun inserts or replaces the record with the same ID.
	RecordRun(ctx context.Context, run RunRecord) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
