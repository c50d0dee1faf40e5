package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/workflow"
)

func newTriggerCommand() *cobra.Command {
	var (
		eventKind string
		branch    string
		at        string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Evaluate an event against the workflow triggers",
		Long: `Evaluate a single source-control event against the workflow's trigger
set and report whether it would start a run. A non-match exits 0:
no trigger firing is an outcome, not a failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.Load(workflowPath)
			if err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}

			kind := workflow.EventKind(eventKind)
			if err := kind.Validate(); err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}

			ts := time.Now()
			if at != "" {
				ts, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return &ExitError{Code: engine.ExitInfra,
						Message: fmt.Sprintf("parse --time: %v", err)}
				}
			}

			ev := workflow.Event{Kind: kind, Branch: branch, Time: ts}
			out := cmd.OutOrStdout()
			if def.Triggers.Matches(ev) {
				fmt.Fprintf(out, "event %s matches: workflow %q would run\n", kind, def.Name)
			} else {
				fmt.Fprintf(out, "event %s does not match any trigger\n", kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventKind, "event", string(workflow.EventPush), "event kind (push, pull_request, schedule)")
	cmd.Flags().StringVar(&branch, "branch", "", "branch name for push events")
	cmd.Flags().StringVar(&at, "time", "", "event timestamp in RFC 3339, defaults to now")

	return cmd
}
