package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	workflowPath string
	verbose      bool
)

// ExitError carries a specific process exit code through cobra.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Message
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ember",
		Short: "Ember - CI Workflow Orchestration Engine",
		Long: `Ember executes declared automation pipelines: it expands job matrices
into concrete runnable units, schedules them in parallel with per-job
failure isolation, runs steps sequentially with fail-fast semantics,
manages a content-addressed dependency cache, and drives time-bounded
fuzz campaigns.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&workflowPath, "workflow", "w", ".ember/workflow.yml", "workflow file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}
