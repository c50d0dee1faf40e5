package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberci/ember/pkg/cache"
	"github.com/emberci/ember/pkg/engine"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the dependency cache",
	}

	cmd.AddCommand(newCachePruneCommand())

	return cmd
}

func newCachePruneCommand() *cobra.Command {
	var (
		cacheDir  string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cache entries unused beyond a horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := cache.NewStore(cache.Config{Dir: cacheDir})
			if err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}
			if err := store.Init(ctx); err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}

			removed, err := store.Prune(ctx, olderThan)
			if err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d cache entr%s\n",
				removed, plural(removed, "y", "ies"))
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "dependency cache directory")
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "remove entries unused for longer than this")

	return cmd
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
