package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/storage"
)

// TelemetryStore is an in-memory implementation of storage.TelemetryStore.
type TelemetryStore struct {
	mu           sync.RWMutex
	states       map[string][]domain.ChannelState // keyed by channel_id
	transactions []domain.Transaction
}

// NewTelemetryStore creates a new in-memory telemetry store.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		states: make(map[string][]domain.ChannelState),
	}
}

// InsertChannelStates appends channel states. Rows without a channel ID are rejected.
func (s *TelemetryStore) InsertChannelStates(_ context.Context, states []domain.ChannelState) error {
	for _, cs := range states {
		if cs.ChannelID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cs := range states {
		s.states[cs.ChannelID] = append(s.states[cs.ChannelID], cs)
	}
	return nil
}

// InsertTransactions appends transactions without their embedded channel states.
func (s *TelemetryStore) InsertTransactions(_ context.Context, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		tx.ChannelsAfter = nil
		s.transactions = append(s.transactions, tx)
	}
	return nil
}

// ChannelHistory returns observations within [start, end] (inclusive), ordered by timestamp ASC.
func (s *TelemetryStore) ChannelHistory(_ context.Context, channelID string, start, end time.Time) ([]domain.ChannelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.ChannelState
	for _, cs := range s.states[channelID] {
		if cs.Timestamp.Before(start) || cs.Timestamp.After(end) {
			continue
		}
		result = append(result, cs)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// TransactionCount returns the number of archived transactions.
func (s *TelemetryStore) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

var _ storage.TelemetryStore = (*TelemetryStore)(nil)
