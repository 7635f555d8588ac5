package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

var (
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func mustDoc(t *testing.T, body string) *catalog.RawDocument {
	t.Helper()
	doc, err := catalog.DecodeDocument([]byte(body))
	require.NoError(t, err)
	return doc
}

func mustRating(t *testing.T, body string) *catalog.RatingDocument {
	t.Helper()
	rating, err := catalog.DecodeRating([]byte(body))
	require.NoError(t, err)
	return rating
}

// baselineFrom turns a plan into the baseline the next ingest would load.
func baselineFrom(prev Baseline, p Plan) Baseline {
	next := prev
	next.Found = true
	next.Info = p.Result.Info
	next.Metric = p.Result.Metric
	next.Rating = p.Result.Rating
	if p.WriteSnapshot() {
		next.Data = p.Snapshot.Data
		if !catalog.EmptyJSON(p.Snapshot.Star) {
			next.Star = p.Snapshot.Star
		}
	}
	return next
}

func TestDecide_NewEntity(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `{"appId":"X1","name":"App","version":"1.0"}`)
	p := Decide(Baseline{}, doc, nil, IngestOptions{}, t0)

	require.True(t, p.Result.IsNew)
	require.True(t, p.Result.InfoChanged)
	require.True(t, p.Result.MetricChanged)
	require.False(t, p.Result.RatingChanged)
	require.True(t, p.WriteSnapshot())
	require.Equal(t, t0, p.Info.CreatedAt)
	require.JSONEq(t, `{}`, string(p.Snapshot.Star))
	require.Nil(t, p.Result.Rating)
}

func TestDecide_IdenticalReingest(t *testing.T) {
	t.Parallel()

	body := `{"appId":"X1","name":"App","version":"1.0","AG-TraceId":"a"}`
	first := Decide(Baseline{}, mustDoc(t, body), nil, IngestOptions{}, t0)
	base := baselineFrom(Baseline{}, first)

	again := `{"AG-TraceId":"b","version":"1.0","name":"App","appId":"X1"}`
	p := Decide(base, mustDoc(t, again), nil, IngestOptions{}, t1)

	require.False(t, p.Result.Changed())
	require.False(t, p.Result.IsNew)
	require.False(t, p.WriteSnapshot())
	require.Equal(t, t0, p.Result.Info.CreatedAt)
}

func TestDecide_MetricOnlyChange(t *testing.T) {
	t.Parallel()

	first := Decide(Baseline{}, mustDoc(t, `{"appId":"X1","name":"App","version":"1.0"}`), nil, IngestOptions{}, t0)
	base := baselineFrom(Baseline{}, first)

	p := Decide(base, mustDoc(t, `{"appId":"X1","name":"App","version":"1.1"}`), nil, IngestOptions{}, t1)

	require.False(t, p.Result.InfoChanged)
	require.True(t, p.Result.MetricChanged)
	require.True(t, p.WriteSnapshot())
	require.Equal(t, "1.1", p.Result.Metric.Version)
	require.Equal(t, t0, p.Info.CreatedAt, "created_at survives updates")
}

func TestDecide_InfoOnlyChange(t *testing.T) {
	t.Parallel()

	first := Decide(Baseline{}, mustDoc(t, `{"appId":"X1","name":"App","version":"1.0"}`), nil, IngestOptions{}, t0)
	base := baselineFrom(Baseline{}, first)

	p := Decide(base, mustDoc(t, `{"appId":"X1","name":"Renamed","version":"1.0"}`), nil, IngestOptions{}, t1)

	require.True(t, p.Result.InfoChanged)
	require.False(t, p.Result.MetricChanged)
	require.Equal(t, "Renamed", p.Result.Info.Name)
	require.Equal(t, t0, p.Result.Info.CreatedAt)
}

func TestDecide_DocumentChangeOutsideProjections(t *testing.T) {
	t.Parallel()

	first := Decide(Baseline{}, mustDoc(t, `{"appId":"X1","name":"App","unmapped":1}`), nil, IngestOptions{}, t0)
	base := baselineFrom(Baseline{}, first)

	p := Decide(base, mustDoc(t, `{"appId":"X1","name":"App","unmapped":2}`), nil, IngestOptions{}, t1)

	require.False(t, p.Result.Changed())
	require.False(t, p.WriteSnapshot(), "no snapshot without a projection write")
}

func TestDecide_Rating(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `{"appId":"X1","name":"App"}`)
	star := `{"averageRating":"4.5","totalStarRatingCount":10}`

	first := Decide(Baseline{}, doc, mustRating(t, star), IngestOptions{}, t0)
	require.True(t, first.Result.RatingChanged)
	require.InDelta(t, 4.5, first.Result.Rating.AverageRating, 1e-9)
	base := baselineFrom(Baseline{}, first)

	same := Decide(base, doc, mustRating(t, `{"totalStarRatingCount":10,"averageRating":"4.5"}`), IngestOptions{}, t1)
	require.False(t, same.Result.RatingChanged)
	require.False(t, same.WriteSnapshot())

	missing := Decide(base, doc, nil, IngestOptions{}, t1)
	require.False(t, missing.Result.RatingChanged)
	require.NotNil(t, missing.Result.Rating, "previous rating stays visible")

	moved := Decide(base, doc, mustRating(t, `{"averageRating":"4.6","totalStarRatingCount":11}`), IngestOptions{}, t1)
	require.True(t, moved.Result.RatingChanged)
	require.False(t, moved.Result.InfoChanged)
	require.False(t, moved.Result.MetricChanged)
	require.True(t, moved.WriteSnapshot())
}

func TestDecide_Overrides(t *testing.T) {
	t.Parallel()

	body := `{"appId":"X1","name":"App"}`
	first := Decide(Baseline{}, mustDoc(t, body), nil, IngestOptions{}, t0)
	base := baselineFrom(Baseline{}, first)

	listed := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	p := Decide(base, mustDoc(t, body), nil, IngestOptions{
		ListedAt: &listed,
		Comment:  json.RawMessage(`{"note":"featured"}`),
	}, t1)

	require.True(t, p.Result.InfoChanged)
	require.False(t, p.Result.MetricChanged)
	require.Equal(t, listed, *p.Result.Info.ListedAt)
	require.JSONEq(t, `{"note":"featured"}`, string(p.Result.Info.Comment))

	// Annotations persist across later plain ingests.
	base = baselineFrom(base, p)
	plain := Decide(base, mustDoc(t, body), nil, IngestOptions{}, t1.Add(time.Hour))
	require.False(t, plain.Result.Changed())
	require.Equal(t, listed, *plain.Result.Info.ListedAt)
}
