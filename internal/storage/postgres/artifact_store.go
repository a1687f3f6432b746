package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/storage"
)

// ArtifactStore is a PostgreSQL implementation of storage.ArtifactStore.
// Each half of a pair is one row in model_artifacts keyed by (stamp, kind).
type ArtifactStore struct {
	pool *Pool
}

// NewArtifactStore creates a new PostgreSQL artifact store.
func NewArtifactStore(pool *Pool) *ArtifactStore {
	return &ArtifactStore{pool: pool}
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)

// Save inserts both halves in one transaction.
func (s *ArtifactStore) Save(ctx context.Context, pair domain.ArtifactPair) (loc string, err error) {
	if pair.Stamp == "" {
		return "", storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "save_artifact", time.Since(start), err) }()

	modelJSON, err := json.Marshal(pair.Model)
	if err != nil {
		return "", fmt.Errorf("encode model artifact: %w", err)
	}
	scalerJSON, err := json.Marshal(pair.Scaler)
	if err != nil {
		return "", fmt.Errorf("encode scaler artifact: %w", err)
	}

	query := `
		INSERT INTO model_artifacts (stamp, kind, version, created_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	rows := []struct {
		kind    string
		version int64
		at      time.Time
		payload []byte
	}{
		{storage.ArtifactScaler, pair.Scaler.Version, pair.Scaler.Timestamp, scalerJSON},
		{storage.ArtifactModel, pair.Model.Version, pair.Model.Timestamp, modelJSON},
	}
	err = s.pool.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			if _, err := tx.Exec(ctx, query, pair.Stamp, r.kind, r.version, r.at, r.payload); err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert %s artifact: %w", r.kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "postgres://model_artifacts/" + pair.Stamp, nil
}

// Load reads both halves of a pair.
func (s *ArtifactStore) Load(ctx context.Context, stamp string) (domain.ArtifactPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, payload
		FROM model_artifacts
		WHERE stamp = $1
	`, stamp)
	if err != nil {
		return domain.ArtifactPair{}, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	pair := domain.ArtifactPair{Stamp: stamp}
	var haveModel, haveScaler bool
	for rows.Next() {
		var kind string
		var payload []byte
		if err := rows.Scan(&kind, &payload); err != nil {
			return domain.ArtifactPair{}, fmt.Errorf("scan artifact row: %w", err)
		}
		switch kind {
		case storage.ArtifactModel:
			if err := json.Unmarshal(payload, &pair.Model); err != nil {
				return domain.ArtifactPair{}, fmt.Errorf("decode model artifact: %w", err)
			}
			haveModel = true
		case storage.ArtifactScaler:
			if err := json.Unmarshal(payload, &pair.Scaler); err != nil {
				return domain.ArtifactPair{}, fmt.Errorf("decode scaler artifact: %w", err)
			}
			haveScaler = true
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ArtifactPair{}, fmt.Errorf("iterate artifact rows: %w", err)
	}

	switch {
	case !haveModel && !haveScaler:
		return domain.ArtifactPair{}, storage.ErrNotFound
	case !haveModel || !haveScaler:
		return domain.ArtifactPair{}, fmt.Errorf("%w: %s", storage.ErrIncompletePair, stamp)
	}
	return pair, nil
}

// Latest loads the newest complete pair.
func (s *ArtifactStore) Latest(ctx context.Context) (domain.ArtifactPair, error) {
	var stamp string
	err := s.pool.QueryRow(ctx, `
		SELECT stamp
		FROM model_artifacts
		GROUP BY stamp
		HAVING COUNT(DISTINCT kind) = 2
		ORDER BY stamp DESC
		LIMIT 1
	`).Scan(&stamp)
	if err != nil {
		if isNotFoundError(err) {
			return domain.ArtifactPair{}, storage.ErrNotFound
		}
		return domain.ArtifactPair{}, fmt.Errorf("query latest artifact: %w", err)
	}
	return s.Load(ctx, stamp)
}

// List returns stamps of complete pairs, oldest first.
func (s *ArtifactStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stamp
		FROM model_artifacts
		GROUP BY stamp
		HAVING COUNT(DISTINCT kind) = 2
		ORDER BY stamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	stamps, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect artifact stamps: %w", err)
	}
	return stamps, nil
}
