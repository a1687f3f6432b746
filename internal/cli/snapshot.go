package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lightning-lens/internal/storage"
)

func newSnapshotCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect saved model snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved snapshot stamps, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			persister, _, cleanup, err := offlinePersister(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			stamps, err := persister.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(stamps) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
				return err
			}
			return printLines(cmd.OutOrStdout(), stamps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Restore the newest snapshot and print its model version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			persister, _, cleanup, err := offlinePersister(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			m, err := persister.LoadLatest(cmd.Context())
			if errors.Is(err, storage.ErrNotFound) {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
				return err
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d updated %s, %d features\n",
				m.Version, m.UpdatedAt.UTC().Format(time.RFC3339), m.Scaler.Width())
			return err
		},
	})
	return cmd
}
