package storage

import (
	"context"
	"time"

	"lightning-lens/internal/domain"
)

// Artifact kinds. A complete pair has one of each under the same stamp.
const (
	ArtifactModel  = "model"
	ArtifactScaler = "scaler"
)

// ArtifactStore persists model/scaler pairs keyed by their shared timestamp stamp.
type ArtifactStore interface {
	// Save writes both halves of a pair and returns where it was written.
	// Returns ErrDuplicateKey if the stamp already exists.
	Save(ctx context.Context, pair domain.ArtifactPair) (string, error)

	// Load returns the pair with the given stamp. Returns ErrNotFound if neither
	// half exists and ErrIncompletePair if only one does.
	Load(ctx context.Context, stamp string) (domain.ArtifactPair, error)

	// Latest returns the most recent complete pair. Returns ErrNotFound if none exists.
	Latest(ctx context.Context) (domain.ArtifactPair, error)

	// List returns the stamps of all complete pairs, oldest first.
	List(ctx context.Context) ([]string, error)
}

// PerformanceStore keeps the adaptive controller's evaluation history.
type PerformanceStore interface {
	// Insert appends a sample.
	Insert(ctx context.Context, s domain.PerformanceSample) error

	// Recent returns up to limit of the newest samples, oldest first.
	// A limit <= 0 returns everything.
	Recent(ctx context.Context, limit int) ([]domain.PerformanceSample, error)
}

// TelemetryStore archives raw telemetry for offline analysis.
type TelemetryStore interface {
	// InsertChannelStates appends channel state observations.
	InsertChannelStates(ctx context.Context, states []domain.ChannelState) error

	// InsertTransactions appends transactions. Embedded post-payment channel
	// states are archived as channel states by the caller.
	InsertTransactions(ctx context.Context, txs []domain.Transaction) error

	// ChannelHistory returns observations of one channel within [start, end], ordered by timestamp ASC.
	ChannelHistory(ctx context.Context, channelID string, start, end time.Time) ([]domain.ChannelState, error)
}
