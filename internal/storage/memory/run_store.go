package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// RunStore keeps run history in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.RunRecord
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.RunRecord)}
}

// RecordRun implements store.RunRepository.
func (s *RunStore) RecordRun(_ context.Context, run store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// ListRuns implements store.RunRepository.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
