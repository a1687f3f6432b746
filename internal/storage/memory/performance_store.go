package memory

import (
	"context"
	"sync"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/storage"
)

// PerformanceStore is an in-memory implementation of storage.PerformanceStore.
type PerformanceStore struct {
	mu      sync.RWMutex
	samples []domain.PerformanceSample
}

// NewPerformanceStore creates a new in-memory performance store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{}
}

// Insert appends a sample.
func (s *PerformanceStore) Insert(_ context.Context, sample domain.PerformanceSample) error {
	if sample.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	return nil
}

// Recent returns up to limit of the newest samples, oldest first.
func (s *PerformanceStore) Recent(_ context.Context, limit int) ([]domain.PerformanceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.samples) > limit {
		start = len(s.samples) - limit
	}
	result := make([]domain.PerformanceSample, len(s.samples)-start)
	copy(result, s.samples[start:])
	return result, nil
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)
