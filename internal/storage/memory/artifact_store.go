package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/storage"
)

// ArtifactStore is an in-memory implementation of storage.ArtifactStore.
type ArtifactStore struct {
	mu    sync.RWMutex
	pairs map[string]domain.ArtifactPair // keyed by stamp
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		pairs: make(map[string]domain.ArtifactPair),
	}
}

// Save stores a copy of the pair. Returns ErrDuplicateKey if the stamp exists.
func (s *ArtifactStore) Save(_ context.Context, pair domain.ArtifactPair) (string, error) {
	if pair.Stamp == "" {
		return "", storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pairs[pair.Stamp]; exists {
		return "", storage.ErrDuplicateKey
	}
	s.pairs[pair.Stamp] = clonePair(pair)
	return "memory://" + pair.Stamp, nil
}

// Load returns a copy of the pair. Returns ErrNotFound if not exists.
func (s *ArtifactStore) Load(_ context.Context, stamp string) (domain.ArtifactPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, exists := s.pairs[stamp]
	if !exists {
		return domain.ArtifactPair{}, storage.ErrNotFound
	}
	return clonePair(pair), nil
}

// Latest returns the pair with the greatest stamp.
func (s *ArtifactStore) Latest(ctx context.Context) (domain.ArtifactPair, error) {
	stamps, _ := s.List(ctx)
	if len(stamps) == 0 {
		return domain.ArtifactPair{}, fmt.Errorf("%w: no artifact pairs", storage.ErrNotFound)
	}
	return s.Load(ctx, stamps[len(stamps)-1])
}

// List returns all stamps, oldest first.
func (s *ArtifactStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stamps := make([]string, 0, len(s.pairs))
	for stamp := range s.pairs {
		stamps = append(stamps, stamp)
	}
	sort.Strings(stamps)
	return stamps, nil
}

func clonePair(p domain.ArtifactPair) domain.ArtifactPair {
	out := p
	out.Model.Regressor.Coef = append([]float64(nil), p.Model.Regressor.Coef...)
	out.Scaler.Scaler.Features = append([]string(nil), p.Scaler.Scaler.Features...)
	out.Scaler.Scaler.Mean = append([]float64(nil), p.Scaler.Scaler.Mean...)
	out.Scaler.Scaler.Scale = append([]float64(nil), p.Scaler.Scaler.Scale...)
	return out
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)
