package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emberci/ember/pkg/cache"
	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/fuzz"
	"github.com/emberci/ember/pkg/telemetry"
	"github.com/emberci/ember/pkg/workflow"
)

func newRunCommand() *cobra.Command {
	var (
		maxParallel int
		workDir     string
		cacheDir    string
		installCmd  string
		metricsAddr string
		tracing     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow",
		Long: `Execute every job of the workflow: matrix entries expand into
independent jobs dispatched over a bounded worker pool, with a shared
dependency cache and fuzz campaigns for fuzz-tagged jobs.

The process exit code is 0 iff every job succeeded, 2 if any failure was
infrastructure- or configuration-class, and 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := telemetry.DefaultConfig()
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.ListenAddress = metricsAddr
			}
			if tracing {
				cfg.Tracing.Enabled = true
			}

			logger, err := telemetry.NewLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}
			metrics, err := telemetry.NewMetrics(cfg.Metrics)
			if err != nil {
				return fmt.Errorf("initialize metrics: %w", err)
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
			tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
			if err != nil {
				return fmt.Errorf("initialize tracing: %w", err)
			}
			defer func() { _ = tracer.Shutdown(ctx) }()

			ctx = logger.WithContext(ctx)

			def, err := workflow.Load(workflowPath)
			if err != nil {
				return &ExitError{Code: engine.ExitInfra, Message: err.Error()}
			}

			jobs, err := engine.Materialize(def)
			if err != nil {
				return &ExitError{Code: engine.ExitCode(err), Message: err.Error()}
			}

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

			var installer fuzz.ToolInstaller
			if installCmd != "" {
				installer = &fuzz.CommandInstaller{Command: installCmd, WorkDir: workDir}
			}
			campaigns := fuzz.NewRunner(fuzz.Config{
				WorkDir:   workDir,
				Installer: installer,
			})

			executor := engine.NewStepExecutor(engine.ExecutorConfig{
				WorkDir:   workDir,
				Cache:     store,
				Campaigns: campaigns,
				Metrics:   metrics,
				Tracer:    tracer,
			})

			scheduler := engine.NewScheduler(maxParallel, executor, engine.NewLogPublisher(logger), metrics)

			runID := uuid.New().String()
			runCtx, span := tracer.StartRunSpan(ctx, runID, def.Name)
			result := scheduler.Execute(runCtx, runID, def.Name, jobs)
			span.End()

			printRunResult(cmd, result)
			if code := result.ExitCode(); code != engine.ExitOK {
				return &ExitError{Code: code, Message: fmt.Sprintf("run %s", result.Status)}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "p", 4, "maximum concurrent jobs")
	cmd.Flags().StringVar(&workDir, "workdir", ".", "working directory for steps")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "dependency cache directory")
	cmd.Flags().StringVar(&installCmd, "install-cmd", "", "toolchain install command template for fuzz campaigns ({toolchain} is substituted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&tracing, "trace", false, "enable OpenTelemetry tracing")

	return cmd
}

// timeRound is the display granularity for durations.
const timeRound = 10 * time.Millisecond

// printRunResult writes the per-job breakdown and aggregate status.
func printRunResult(cmd *cobra.Command, result *engine.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s\n", result.ID, result.Status)

	jobIDs := make([]string, 0, len(result.Jobs))
	for jobID := range result.Jobs {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Strings(jobIDs)

	for _, jobID := range jobIDs {
		job := result.Jobs[jobID]
		fmt.Fprintf(out, "  %-40s %s\n", jobID, job.Status)
		if job.Error != nil {
			fmt.Fprintf(out, "    %s\n", job.Error.Error())
		}
		if job.Campaign != nil && job.Campaign.ReproducerPath != "" {
			fmt.Fprintf(out, "    reproducer: %s\n", job.Campaign.ReproducerPath)
		}
	}
	fmt.Fprintf(out, "%d total, %d succeeded, %d failed, %d cancelled (%s)\n",
		result.Summary.Total, result.Summary.Succeeded,
		result.Summary.Failed, result.Summary.Cancelled, result.Duration.Round(timeRound))
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/ember"
	}
	return ".ember-cache"
}
