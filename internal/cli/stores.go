package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"lightning-lens/internal/config"
	"lightning-lens/internal/storage"
	chstore "lightning-lens/internal/storage/clickhouse"
	"lightning-lens/internal/storage/file"
	"lightning-lens/internal/storage/memory"
	"lightning-lens/internal/storage/migrations"
	pgstore "lightning-lens/internal/storage/postgres"
)

// stores holds the storage implementations selected by configuration.
type stores struct {
	artifacts   storage.ArtifactStore
	performance storage.PerformanceStore
	telemetry   storage.TelemetryStore // nil when archiving is off
}

// createStores opens the configured backends and runs their migrations.
// The returned cleanup closes every opened connection.
func createStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*stores, func(), error) {
	s := &stores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Snapshot.Backend {
	case config.BackendMemory:
		s.artifacts = memory.NewArtifactStore()
		s.performance = memory.NewPerformanceStore()

	case config.BackendFile:
		fileStore, err := file.NewArtifactStore(cfg.Snapshot.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot dir: %w", err)
		}
		s.artifacts = fileStore
		s.performance = memory.NewPerformanceStore()

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.WithField("files", applied).Info("postgres migrations applied")

		s.artifacts = pgstore.NewArtifactStore(pool)
		s.performance = pgstore.NewPerformanceStore(pool)

	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}

	if cfg.Storage.ArchiveTelemetry {
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		logger.WithField("files", applied).Info("clickhouse migrations applied")
		s.telemetry = chstore.NewTelemetryStore(conn)
	}

	return s, cleanup, nil
}
