package fuzz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/telemetry"
)

// DefaultToolchain is the pinned toolchain used when a campaign does not
// declare one. A dated pin, not "latest", so cache keys and behavior stay
// stable over time.
const DefaultToolchain = "nightly-2026-07-01"

// budgetGrace is how long past the wall-clock budget the runner waits for
// the target to stop on its own before killing it.
const budgetGrace = 30 * time.Second

// outputTail caps how much campaign output is retained in the result.
const outputTail = 64 * 1024

// ToolInstaller prepares the pinned toolchain and fuzzing tool before a
// campaign starts. Installation failure is an infrastructure error, not a
// finding.
type ToolInstaller interface {
	Install(ctx context.Context, toolchain string) error
}

// Config configures a campaign Runner.
type Config struct {
	// WorkDir is the directory fuzz target paths are resolved against.
	WorkDir string

	// ArtifactDir is where reproducing inputs are retained for inspection.
	ArtifactDir string

	// Installer prepares the toolchain pin, optional.
	Installer ToolInstaller

	// Runner executes the target, defaults to an os/exec based runner.
	Runner engine.CommandRunner

	// Grace is how long past the wall-clock budget the runner waits for
	// the target to stop on its own before killing it. Defaults to
	// budgetGrace.
	Grace time.Duration
}

// Runner drives fuzz campaigns to a terminal state. It implements
// engine.CampaignRunner.
type Runner struct {
	workDir     string
	artifactDir string
	installer   ToolInstaller
	runner      engine.CommandRunner
	grace       time.Duration
}

// NewRunner creates a campaign runner from the given configuration.
func NewRunner(cfg Config) *Runner {
	runner := cfg.Runner
	if runner == nil {
		runner = &engine.ExecRunner{}
	}
	artifactDir := cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = filepath.Join(cfg.WorkDir, "fuzz-artifacts")
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = budgetGrace
	}
	return &Runner{
		workDir:     cfg.WorkDir,
		artifactDir: artifactDir,
		installer:   cfg.Installer,
		runner:      runner,
		grace:       grace,
	}
}

// Run implements engine.CampaignRunner.
func (r *Runner) Run(ctx context.Context, job *engine.Job) *engine.CampaignResult {
	spec := job.Fuzz
	result := &engine.CampaignResult{
		Target: spec.Target,
		State:  engine.CampaignStarting,
	}
	log := telemetry.FromContext(ctx).WithJobID(job.ID).WithTarget(spec.Target)

	toolchain := spec.Toolchain
	if toolchain == "" {
		toolchain = DefaultToolchain
	}

	if r.installer != nil {
		log.Debugf("installing toolchain pin %s", toolchain)
		if err := r.installer.Install(ctx, toolchain); err != nil {
			result.State = engine.CampaignStoppedByError
			result.Error = engine.NewInfraError("toolchain install failed", err).
				WithCode(engine.ErrCodeToolchainInstall).WithJob(job.ID)
			return result
		}
	}

	artifactDir := filepath.Join(r.artifactDir, spec.Target)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		result.State = engine.CampaignStoppedByError
		result.Error = engine.NewInfraError("create artifact directory", err).WithJob(job.ID)
		return result
	}

	result.State = engine.CampaignRunning
	result.StartedAt = time.Now()
	log.Infof("campaign running: %d workers, %s budget, %s per-run timeout",
		spec.Jobs, spec.TotalTime, spec.RunTimeout)

	// The budget is enforced twice: the target receives it as a flag, and
	// the runner holds an independent deadline with a grace period in case
	// the target ignores it. The per-input timeout is the target's own
	// cancellation point and is reported back as a hang finding.
	campaignCtx, cancel := context.WithTimeout(ctx, spec.TotalTime+r.grace)
	defer cancel()

	target := filepath.Join(r.workDir, spec.Dir, spec.Target)
	argv := []string{
		target,
		fmt.Sprintf("-jobs=%d", spec.Jobs),
		fmt.Sprintf("-max_total_time=%d", int(spec.TotalTime.Seconds())),
		fmt.Sprintf("-timeout=%d", int(spec.RunTimeout.Seconds())),
		fmt.Sprintf("-artifact_prefix=%s", artifactDir+string(os.PathSeparator)),
	}

	env := engine.MergeEnv(os.Environ(), job.Env)
	output, exitCode, err := r.runner.Run(campaignCtx, argv, env, r.workDir)
	result.Duration = time.Since(result.StartedAt)
	result.Output = tail(output)

	switch {
	case err != nil && campaignCtx.Err() == nil:
		// The target never ran or could not be observed.
		result.State = engine.CampaignStoppedByError
		result.Error = engine.NewInfraError("fuzz target invocation failed", err).WithJob(job.ID)

	case ctx.Err() != nil:
		// Operator abort, not a campaign outcome.
		result.State = engine.CampaignStoppedByError
		result.Error = engine.NewInfraError("campaign cancelled", ctx.Err()).
			WithCode(engine.ErrCodeCancelled).WithJob(job.ID)

	case exitCode == 0, campaignCtx.Err() != nil && !hasFinding(output):
		// Clean exit, or the runner's deadline fired with nothing found:
		// the budget elapsed without a finding. Success.
		result.State = engine.CampaignStoppedByBudget

	default:
		result.State = engine.CampaignStoppedByCrash
		result.ReproducerPath = newestArtifact(artifactDir)
		code := engine.ErrCodeFuzzCrash
		msg := "fuzz target crashed"
		if isHang(output) {
			code = engine.ErrCodeFuzzHang
			msg = "fuzz input exceeded the per-run timeout"
		}
		result.Error = engine.NewFindingError(msg, nil).
			WithCode(code).WithJob(job.ID).
			WithDetail("reproducer", result.ReproducerPath)
	}

	return result
}

// hasFinding reports whether the output carries a crash-class marker.
func hasFinding(output string) bool {
	return strings.Contains(output, "ERROR:") ||
		strings.Contains(output, "SUMMARY:") ||
		strings.Contains(output, "panicked")
}

// isHang reports whether the finding was a per-input timeout rather than a
// crash.
func isHang(output string) bool {
	return strings.Contains(output, "timeout") &&
		!strings.Contains(output, "max_total_time")
}

// newestArtifact returns the most recently written artifact in dir, which
// for a crash stop is the reproducing input.
func newestArtifact(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	return newest
}

// tail returns the last outputTail bytes of s.
func tail(s string) string {
	if len(s) <= outputTail {
		return s
	}
	return s[len(s)-outputTail:]
}

// CommandInstaller installs the toolchain pin by running a command template
// in which "{toolchain}" is substituted, e.g.
// "rustup toolchain install {toolchain}".
type CommandInstaller struct {
	// Command is the install command template.
	Command string

	// WorkDir is the working directory for the install command.
	WorkDir string

	// Runner executes the command, defaults to an os/exec based runner.
	Runner engine.CommandRunner
}

// Install implements ToolInstaller.
func (c *CommandInstaller) Install(ctx context.Context, toolchain string) error {
	runner := c.Runner
	if runner == nil {
		runner = &engine.ExecRunner{}
	}

	command := strings.ReplaceAll(c.Command, "{toolchain}", toolchain)
	argv, err := engine.SplitCommand(command)
	if err != nil {
		return fmt.Errorf("malformed install command: %w", err)
	}

	output, exitCode, err := runner.Run(ctx, argv, os.Environ(), c.WorkDir)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("install exited with code %d: %s", exitCode, tail(output))
	}
	return nil
}
