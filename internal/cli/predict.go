package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lightning-lens/internal/config"
	"lightning-lens/internal/learning"
	"lightning-lens/internal/model"
	"lightning-lens/internal/snapshot"
	"lightning-lens/internal/storage"
)

type predictOptions struct {
	capacity int64
	local    int64
	remote   int64
}

func newPredictCommand(root *rootOptions) *cobra.Command {
	opts := &predictOptions{remote: -1}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the optimal balance ratio for one channel from the latest saved model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.capacity <= 0 {
				return errors.New("--capacity must be positive")
			}
			if opts.local < 0 || opts.local > opts.capacity {
				return errors.New("--local must be within [0, capacity]")
			}
			if opts.remote < 0 {
				opts.remote = opts.capacity - opts.local
			}

			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return runPredict(cmd.Context(), cfg, logger, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.capacity, "capacity", 0, "channel capacity in sats")
	f.Int64Var(&opts.local, "local", 0, "local balance in sats")
	f.Int64Var(&opts.remote, "remote", -1, "remote balance in sats (default capacity - local)")
	_ = cmd.MarkFlagRequired("capacity")
	return cmd
}

type prediction struct {
	Capacity         int64   `json:"capacity"`
	LocalBalance     int64   `json:"local_balance"`
	RemoteBalance    int64   `json:"remote_balance"`
	CurrentRatio     float64 `json:"current_ratio"`
	OptimalRatio     float64 `json:"optimal_ratio"`
	AdjustmentNeeded float64 `json:"adjustment_needed"`
	ModelVersion     int64   `json:"model_version"`
	Fitted           bool    `json:"fitted"`
}

func runPredict(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts *predictOptions, out io.Writer) error {
	engine, cleanup, err := offlineEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := engine.LoadLatest(ctx); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		logger.Warn("no saved model found, using the default ratio")
	}

	optimal := engine.PredictOptimalRatio(opts.capacity, opts.local, opts.remote)
	current := float64(opts.local) / float64(opts.capacity)
	stats := engine.Stats()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(prediction{
		Capacity:         opts.capacity,
		LocalBalance:     opts.local,
		RemoteBalance:    opts.remote,
		CurrentRatio:     current,
		OptimalRatio:     optimal,
		AdjustmentNeeded: optimal - current,
		ModelVersion:     stats.ModelVersion,
		Fitted:           stats.Fitted,
	})
}

// offlineEngine builds an engine over the snapshot store only. Telemetry
// archiving is never opened by offline commands.
func offlineEngine(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*learning.Engine, func(), error) {
	persister, store, cleanup, err := offlinePersister(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	engine := learning.NewEngine(learning.EngineOptions{
		Buffer:    learning.BufferOptions{MinSamples: cfg.Learning.MinSamplesForUpdate},
		Store:     store,
		Snapshots: persister,
		Logger:    logger,
	})
	return engine, cleanup, nil
}

func offlinePersister(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*snapshot.Persister, *model.Store, func(), error) {
	c := *cfg
	c.Storage.ArchiveTelemetry = false
	st, cleanup, err := createStores(ctx, &c, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	store := model.NewStore(model.StoreOptions{
		MinSamples: cfg.Learning.MinSamplesForUpdate,
		Alpha:      cfg.Learning.RidgeAlpha,
	})
	persister := snapshot.NewPersister(snapshot.PersisterOptions{
		Artifacts: st.artifacts,
		Model:     store,
		Logger:    logger,
	})
	return persister, store, cleanup, nil
}

func printLines(out io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(out, l); err != nil {
			return err
		}
	}
	return nil
}
