package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/medverify/medverify/internal/index"
	"github.com/medverify/medverify/internal/store"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the lexical and vector indexes from the catalog",
		Long: `Build the search indexes.

Streams every catalog product through the embedder, trains the vector
index once enough samples are buffered, and atomically replaces the
on-disk index. Safe to re-run; a file lock rejects concurrent builds.

Examples:
  medverify index
  MEDVERIFY_FORCE_FLAT=1 medverify index`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.embedder == nil {
				return fmt.Errorf("vector tier is disabled; enable it to build the index")
			}

			// The builder owns a fresh index instance; serving handles
			// pick up the generation swap via the file watcher.
			vindex := store.NewVectorIndex(app.vectorConfig(), app.cfg.Data.VectorPath, app.logger)

			builder := index.New(app.catalog, app.lexical, app.embedder, vindex, index.Config{
				BatchSize:   app.cfg.Index.BatchSize,
				TrainTarget: app.cfg.Index.TrainTarget,
				LockPath:    filepath.Join(app.cfg.Data.Dir, "index.lock"),
			}, app.logger, app.metrics)

			stats, err := builder.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.String())
			return nil
		},
	}
	return cmd
}
