package store

import (
	"encoding/json"
	"time"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

// emptyStar is stored in place of a missing rating payload.
var emptyStar = json.RawMessage(`{}`)

// Baseline is the previously stored state an ingest compares against.
type Baseline struct {
	// Found is true when an info row exists.
	Found bool
	Info  catalog.EntityInfo
	// Metric is the most recent metric row, if any.
	Metric *catalog.EntityMetric
	// Rating is the most recent rating row, if any.
	Rating *catalog.EntityRating
	// Data is the entity document of the most recent raw snapshot.
	Data json.RawMessage
	// Star is the most recent non-empty rating payload.
	Star json.RawMessage
}

// Plan lists the rows an ingest must write. Backends apply it in one transaction.
type Plan struct {
	Result IngestResult

	Info     catalog.EntityInfo
	Metric   catalog.EntityMetric
	Rating   catalog.EntityRating
	Snapshot RawSnapshot
}

// WriteSnapshot reports whether a raw snapshot row must be appended.
func (p Plan) WriteSnapshot() bool {
	return p.Result.Changed()
}

// Decide computes which projections differ from the baseline.
//
// An unchanged entity document short-circuits the projection comparison unless
// the caller supplied overrides. The rating is compared as a whole against the
// last non-empty rating payload.
func Decide(
	base Baseline,
	doc *catalog.RawDocument,
	rating *catalog.RatingDocument,
	opts IngestOptions,
	now time.Time,
) Plan {
	info := doc.Info()
	if base.Found {
		info.ListedAt = base.Info.ListedAt
		info.Comment = base.Info.Comment
		info.CreatedAt = base.Info.CreatedAt
	} else {
		info.CreatedAt = now
	}
	if opts.ListedAt != nil {
		listed := opts.ListedAt.UTC()
		info.ListedAt = &listed
	}
	if !catalog.EmptyJSON(opts.Comment) {
		info.Comment = opts.Comment
	}

	metric := doc.Metric()
	metric.CreatedAt = now

	var res IngestResult
	res.IsNew = !base.Found

	sameDocument := base.Found && len(base.Data) > 0 && !opts.overrides() &&
		catalog.JSONEqual(base.Data, doc.Raw)
	if !sameDocument {
		res.InfoChanged = !base.Found || !base.Info.SameContent(info)
		res.MetricChanged = base.Metric == nil || !base.Metric.SameContent(metric)
	}

	var rated catalog.EntityRating
	star := emptyStar
	if rating != nil {
		rated = rating.Rating(info.AppID)
		rated.CreatedAt = now
		if !catalog.EmptyJSON(rating.Raw) {
			star = rating.Raw
			res.RatingChanged = len(base.Star) == 0 || !catalog.JSONEqual(base.Star, rating.Raw)
		}
	}

	res.Info = base.Info
	if res.InfoChanged || !base.Found {
		res.Info = info
	}
	res.Metric = base.Metric
	if res.MetricChanged {
		m := metric
		res.Metric = &m
	}
	res.Rating = base.Rating
	if res.RatingChanged {
		r := rated
		res.Rating = &r
	}

	return Plan{
		Result: res,
		Info:   info,
		Metric: metric,
		Rating: rated,
		Snapshot: RawSnapshot{
			AppID:     info.AppID,
			Data:      doc.Raw,
			Star:      star,
			CreatedAt: now,
		},
	}
}
