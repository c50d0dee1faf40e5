package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/workflow"
)

// devDebounce coalesces the burst of filesystem events an editor save
// produces into one reload.
const devDebounce = 200 * time.Millisecond

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the workflow file and re-validate on change",
		Long: `Watch the workflow file and re-validate it on every change, printing
the materialized job list. Useful while iterating on a workflow:
mistakes surface on save instead of at the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			// Watch the directory, not the file: editors replace files by
			// rename, which drops a file-level watch.
			dir := filepath.Dir(workflowPath)
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}

			target, err := filepath.Abs(workflowPath)
			if err != nil {
				return fmt.Errorf("resolve workflow path: %w", err)
			}

			revalidate(cmd)

			var debounce *time.Timer
			reload := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil

				case <-reload:
					revalidate(cmd)

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					abs, err := filepath.Abs(event.Name)
					if err != nil || abs != target {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(devDebounce, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	return cmd
}

// revalidate loads and validates the workflow file and prints the outcome.
// Failures are reported and watching continues.
func revalidate(cmd *cobra.Command) {
	out := cmd.OutOrStdout()

	def, err := workflow.Load(workflowPath)
	if err != nil {
		fmt.Fprintf(out, "[%s] invalid: %v\n", time.Now().Format("15:04:05"), err)
		return
	}
	jobs, err := engine.Materialize(def)
	if err != nil {
		fmt.Fprintf(out, "[%s] invalid: %v\n", time.Now().Format("15:04:05"), err)
		return
	}

	fmt.Fprintf(out, "[%s] workflow %q valid, %d job(s)\n",
		time.Now().Format("15:04:05"), def.Name, len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "  %s\n", job.ID)
	}
}
