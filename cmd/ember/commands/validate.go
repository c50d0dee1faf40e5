package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/workflow"
)

func newValidateCommand() *cobra.Command {
	var expand bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow file",
		Long: `Parse and validate the workflow file without executing anything.
With --expand the materialized job list is printed, so matrix
expansion can be inspected before a run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.Load(workflowPath)
			if err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: workflow %q is valid\n", workflowPath, def.Name)

			if !expand {
				return nil
			}

			jobs, err := engine.Materialize(def)
			if err != nil {
				return &ExitError{Code: engine.ExitCode(err), Message: err.Error()}
			}
			fmt.Fprintf(out, "%d job(s):\n", len(jobs))
			for _, job := range jobs {
				kind := fmt.Sprintf("%d step(s)", len(job.Steps))
				if job.Fuzz != nil {
					kind = fmt.Sprintf("fuzz target %q", job.Fuzz.Target)
				}
				fmt.Fprintf(out, "  %-40s %s\n", job.ID, kind)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&expand, "expand", false, "print the materialized job list")

	return cmd
}
