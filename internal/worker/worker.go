// Package worker runs one candidate through fetch, rating lookup and change-aware ingest.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
	"github.com/JakeFAU/appgallery-ingest/internal/policy/rating"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// Fetcher is the remote lookup surface the worker depends on.
type Fetcher interface {
	FetchEntity(ctx context.Context, key catalog.EntityKey, locale string) (*catalog.RawDocument, error)
	FetchRating(ctx context.Context, appID string) (*catalog.RatingDocument, error)
}

// Outcome classifies a processed candidate.
type Outcome string

// Candidate outcomes reported to the scheduler.
const (
	OutcomeInserted Outcome = "inserted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Config controls Worker behavior.
type Config struct {
	Locale        string
	ArchivePrefix string
	Topic         string
}

// Worker executes the per-candidate pipeline.
type Worker struct {
	fetcher   Fetcher
	store     store.ChangeAwareStore
	ratings   rating.Predicate
	blobs     catalog.BlobStore
	publisher catalog.Publisher
	hasher    catalog.Hasher
	clock     catalog.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. ratings, blobs, publisher and hasher are optional.
func New(
	fetcher Fetcher,
	st store.ChangeAwareStore,
	ratings rating.Predicate,
	blobs catalog.BlobStore,
	publisher catalog.Publisher,
	hasher catalog.Hasher,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ratings == nil {
		ratings = rating.Always
	}
	return &Worker{
		fetcher:   fetcher,
		store:     st,
		ratings:   ratings,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Process runs one candidate and reports whether anything was written.
func (w *Worker) Process(ctx context.Context, key catalog.EntityKey) (Outcome, error) {
	res, err := w.Ingest(ctx, key, store.IngestOptions{})
	if err != nil {
		return OutcomeFailed, err
	}
	if res.Changed() {
		return OutcomeInserted, nil
	}
	return OutcomeSkipped, nil
}

// Ingest fetches key, looks up its rating when the predicate allows it, and
// stores the result. Rating failures other than credential loss are tolerated.
func (w *Worker) Ingest(ctx context.Context, key catalog.EntityKey, opts store.IngestOptions) (store.IngestResult, error) {
	doc, err := w.fetcher.FetchEntity(ctx, key, w.cfg.Locale)
	if err != nil {
		return store.IngestResult{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	rated, err := w.fetchRating(ctx, doc)
	if err != nil {
		return store.IngestResult{}, err
	}

	res, err := w.store.Ingest(ctx, doc, rated, opts)
	if err != nil {
		var storeErr *catalog.StoreError
		if !errors.As(err, &storeErr) {
			err = &catalog.StoreError{Op: "ingest", Err: err}
		}
		return store.IngestResult{}, fmt.Errorf("ingest %s: %w", doc.AppID, err)
	}
	metrics.ObserveChanges(res.InfoChanged, res.MetricChanged, res.RatingChanged)

	if res.Changed() {
		w.logger.Debug("entity changed",
			zap.String("app_id", doc.AppID),
			zap.String("pkg_name", doc.PkgName),
			zap.Bool("info", res.InfoChanged),
			zap.Bool("metric", res.MetricChanged),
			zap.Bool("rating", res.RatingChanged),
			zap.Bool("new", res.IsNew),
		)
		w.afterChange(ctx, doc, rated, res)
	}
	return res, nil
}

func (w *Worker) fetchRating(ctx context.Context, doc *catalog.RawDocument) (*catalog.RatingDocument, error) {
	if !w.ratings.ShouldFetch(doc) {
		return nil, nil
	}
	rated, err := w.fetcher.FetchRating(ctx, doc.AppID)
	switch {
	case err == nil:
		return rated, nil
	case errors.Is(err, catalog.ErrCredentialsUnavailable):
		return nil, fmt.Errorf("fetch rating %s: %w", doc.AppID, err)
	case errors.Is(err, catalog.ErrRatingUnavailable):
		w.logger.Debug("no rating card", zap.String("app_id", doc.AppID))
	default:
		w.logger.Warn("rating lookup failed, continuing without rating",
			zap.String("app_id", doc.AppID),
			zap.Error(err),
		)
	}
	return nil, nil
}

// afterChange archives the snapshot and announces the change. Neither step
// affects the ingest result.
func (w *Worker) afterChange(
	ctx context.Context,
	doc *catalog.RawDocument,
	rated *catalog.RatingDocument,
	res store.IngestResult,
) {
	event := newChangeEvent(doc, res, w.clock.Now())

	if w.blobs != nil {
		uri, err := w.archive(ctx, doc, rated, event)
		if err != nil {
			w.logger.Warn("archive snapshot failed", zap.String("app_id", doc.AppID), zap.Error(err))
		}
		event.SnapshotURI = uri
	}

	if w.publisher != nil {
		if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
			w.logger.Warn("publish change event failed", zap.String("app_id", doc.AppID), zap.Error(err))
		}
	}
}

type archivedSnapshot struct {
	Data json.RawMessage `json:"data"`
	Star json.RawMessage `json:"star"`
}

func (w *Worker) archive(
	ctx context.Context,
	doc *catalog.RawDocument,
	rated *catalog.RatingDocument,
	event ChangeEvent,
) (string, error) {
	snap := archivedSnapshot{Data: doc.Raw, Star: json.RawMessage(`{}`)}
	if rated != nil && !catalog.EmptyJSON(rated.Raw) {
		snap.Star = rated.Raw
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	digest := "nohash"
	if w.hasher != nil {
		if digest, err = w.hasher.Hash(body); err != nil {
			return "", fmt.Errorf("hash snapshot: %w", err)
		}
	}
	uri, err := w.blobs.PutObject(ctx, w.archivePath(doc.AppID, event, digest), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

func (w *Worker) archivePath(appID string, event ChangeEvent, digest string) string {
	name := fmt.Sprintf("%s/%d-%s.json", appID, event.ObservedAt.UnixMilli(), digest)
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
