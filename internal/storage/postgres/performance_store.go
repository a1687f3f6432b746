package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/storage"
)

// PerformanceStore is a PostgreSQL implementation of storage.PerformanceStore.
type PerformanceStore struct {
	pool *Pool
}

// NewPerformanceStore creates a new PostgreSQL performance store.
func NewPerformanceStore(pool *Pool) *PerformanceStore {
	return &PerformanceStore{pool: pool}
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)

// Insert appends a sample.
func (s *PerformanceStore) Insert(ctx context.Context, sample domain.PerformanceSample) (err error) {
	if sample.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "insert_performance", time.Since(start), err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO performance_samples (recorded_at, score, learning_rate, model_version)
		VALUES ($1, $2, $3, $4)
	`, sample.Timestamp, sample.Score, sample.LearningRate, sample.ModelVersion)
	if err != nil {
		return fmt.Errorf("insert performance sample: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest samples, oldest first.
func (s *PerformanceStore) Recent(ctx context.Context, limit int) ([]domain.PerformanceSample, error) {
	query := `
		SELECT recorded_at, score, learning_rate, model_version
		FROM (
			SELECT id, recorded_at, score, learning_rate, model_version
			FROM performance_samples
			ORDER BY id DESC
			LIMIT $1
		) newest
		ORDER BY id ASC
	`
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("query performance samples: %w", err)
	}
	return scanSamples(rows)
}

func scanSamples(rows pgx.Rows) ([]domain.PerformanceSample, error) {
	defer rows.Close()

	var samples []domain.PerformanceSample
	for rows.Next() {
		var p domain.PerformanceSample
		if err := rows.Scan(&p.Timestamp, &p.Score, &p.LearningRate, &p.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan performance sample: %w", err)
		}
		samples = append(samples, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance samples: %w", err)
	}
	return samples, nil
}
