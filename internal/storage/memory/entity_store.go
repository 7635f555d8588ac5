package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// EntityStore provides an in-memory ChangeAwareStore for development/testing.
type EntityStore struct {
	clock catalog.Clock

	mu        sync.RWMutex
	info      map[string]catalog.EntityInfo
	metrics   map[string][]catalog.EntityMetric
	ratings   map[string][]catalog.EntityRating
	snapshots map[string][]store.RawSnapshot
}

var _ store.ChangeAwareStore = (*EntityStore)(nil)

// NewEntityStore constructs an EntityStore.
func NewEntityStore(clock catalog.Clock) *EntityStore {
	return &EntityStore{
		clock:     clock,
		info:      make(map[string]catalog.EntityInfo),
		metrics:   make(map[string][]catalog.EntityMetric),
		ratings:   make(map[string][]catalog.EntityRating),
		snapshots: make(map[string][]store.RawSnapshot),
	}
}

// Ingest implements store.ChangeAwareStore. The whole ingest runs under one lock.
func (s *EntityStore) Ingest(
	_ context.Context,
	doc *catalog.RawDocument,
	rating *catalog.RatingDocument,
	opts store.IngestOptions,
) (store.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan := store.Decide(s.baseline(doc.AppID), doc, rating, opts, s.clock.Now())
	res := plan.Result
	if res.InfoChanged {
		s.info[doc.AppID] = plan.Info
	}
	if res.MetricChanged {
		s.metrics[doc.AppID] = append(s.metrics[doc.AppID], plan.Metric)
	}
	if res.RatingChanged {
		s.ratings[doc.AppID] = append(s.ratings[doc.AppID], plan.Rating)
	}
	if plan.WriteSnapshot() {
		s.snapshots[doc.AppID] = append(s.snapshots[doc.AppID], plan.Snapshot)
	}
	return res, nil
}

func (s *EntityStore) baseline(appID string) store.Baseline {
	var base store.Baseline
	base.Info, base.Found = s.info[appID]
	if rows := s.metrics[appID]; len(rows) > 0 {
		m := rows[len(rows)-1]
		base.Metric = &m
	}
	if rows := s.ratings[appID]; len(rows) > 0 {
		r := rows[len(rows)-1]
		base.Rating = &r
	}
	snaps := s.snapshots[appID]
	if len(snaps) > 0 {
		base.Data = snaps[len(snaps)-1].Data
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if !catalog.EmptyJSON(snaps[i].Star) {
			base.Star = snaps[i].Star
			break
		}
	}
	return base
}

// Lookup implements store.ChangeAwareStore.
func (s *EntityStore) Lookup(_ context.Context, key catalog.EntityKey) (store.EntityView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appID := key.Value
	if key.Kind == catalog.KindPackage {
		appID = ""
		for id, info := range s.info {
			if info.PkgName == key.Value {
				appID = id
				break
			}
		}
	}
	base := s.baseline(appID)
	if !base.Found {
		return store.EntityView{}, store.ErrNotFound
	}
	return store.EntityView{Info: base.Info, Metric: base.Metric, Rating: base.Rating}, nil
}

// KnownAppIDs implements store.ChangeAwareStore.
func (s *EntityStore) KnownAppIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.info))
	for id := range s.info {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// KnownPackages implements store.ChangeAwareStore.
func (s *EntityStore) KnownPackages(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.info))
	out := make([]string, 0, len(s.info))
	for _, info := range s.info {
		if info.PkgName == "" {
			continue
		}
		if _, ok := seen[info.PkgName]; ok {
			continue
		}
		seen[info.PkgName] = struct{}{}
		out = append(out, info.PkgName)
	}
	sort.Strings(out)
	return out, nil
}

// Metrics returns the metric history of one entity, oldest first.
func (s *EntityStore) Metrics(appID string) []catalog.EntityMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.EntityMetric(nil), s.metrics[appID]...)
}

// Ratings returns the rating history of one entity, oldest first.
func (s *EntityStore) Ratings(appID string) []catalog.EntityRating {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.EntityRating(nil), s.ratings[appID]...)
}

// Snapshots returns the raw snapshot history of one entity, oldest first.
func (s *EntityStore) Snapshots(appID string) []store.RawSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.RawSnapshot(nil), s.snapshots[appID]...)
}
