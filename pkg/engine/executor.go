package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emberci/ember/pkg/telemetry"
)

// ExecutorConfig configures a StepExecutor.
type ExecutorConfig struct {
	// WorkDir is the working directory steps execute in.
	WorkDir string

	// Runner runs step commands. Defaults to an os/exec based runner.
	Runner CommandRunner

	// Cache is the dependency cache, optional.
	Cache Cache

	// Campaigns runs fuzz campaigns for fuzz-tagged jobs.
	Campaigns CampaignRunner

	// Metrics records step and cache activity, optional.
	Metrics *telemetry.Metrics

	// Tracer emits job and step spans, optional.
	Tracer *telemetry.Tracer
}

// StepExecutor runs a job's ordered step sequence strictly in order with
// fail-fast semantics, consulting and populating the dependency cache.
// Fuzz-tagged jobs are delegated to the configured CampaignRunner.
type StepExecutor struct {
	workDir   string
	runner    CommandRunner
	cache     Cache
	campaigns CampaignRunner
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// NewStepExecutor creates a step executor from the given configuration.
func NewStepExecutor(cfg ExecutorConfig) *StepExecutor {
	runner := cfg.Runner
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &StepExecutor{
		workDir:   cfg.WorkDir,
		runner:    runner,
		cache:     cfg.Cache,
		campaigns: cfg.Campaigns,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
}

// ExecuteJob implements Executor.
func (e *StepExecutor) ExecuteJob(ctx context.Context, job *Job) *JobResult {
	started := time.Now()
	result := &JobResult{
		JobID:     job.ID,
		Status:    JobStatusRunning,
		StartedAt: started,
	}

	log := telemetry.FromContext(ctx).WithJobID(job.ID)

	if e.tracer != nil {
		spanCtx, span := e.tracer.StartJobSpan(ctx, job.ID)
		ctx = spanCtx
		defer span.End()
	}

	if job.Fuzz != nil {
		e.runCampaign(ctx, job, result, log)
	} else {
		e.runSteps(ctx, job, result, log)
	}

	result.Duration = time.Since(started)
	return result
}

// runCampaign delegates a fuzz-tagged job to the campaign runner.
func (e *StepExecutor) runCampaign(ctx context.Context, job *Job, result *JobResult, log *telemetry.Logger) {
	if e.campaigns == nil {
		result.Status = JobStatusFailed
		result.Error = NewInfraError("no campaign runner configured", nil).WithJob(job.ID)
		return
	}

	campaign := e.campaigns.Run(ctx, job)
	result.Campaign = campaign
	e.metrics.CampaignCompleted(campaign.Target, string(campaign.State))

	switch campaign.State {
	case CampaignStoppedByBudget:
		// Budget expiry with no finding is success.
		result.Status = JobStatusSucceeded
		log.WithTarget(campaign.Target).Info("campaign exhausted its budget with no findings")
	case CampaignStoppedByCrash:
		result.Status = JobStatusFailed
		result.Error = campaign.Error
		e.metrics.FuzzFinding(campaign.Target)
		log.WithTarget(campaign.Target).Errorf("campaign found a crash, reproducer at %s", campaign.ReproducerPath)
	default:
		result.Status = JobStatusFailed
		if campaign.Error == nil {
			campaign.Error = NewInfraError("campaign stopped abnormally", nil).WithJob(job.ID)
		}
		result.Error = campaign.Error
		log.WithTarget(campaign.Target).WithError(campaign.Error).Error("campaign failed")
	}

	if ctx.Err() != nil && result.Status == JobStatusFailed {
		result.Status = JobStatusCancelled
	}
}

// runSteps executes the job's steps strictly in order. The first step that
// exits non-zero aborts the remainder and fails the job; its output and
// exit code stay attached to the result for diagnostics.
func (e *StepExecutor) runSteps(ctx context.Context, job *Job, result *JobResult, log *telemetry.Logger) {
	cacheKey := e.restoreCache(ctx, job, log)

	for _, step := range job.Steps {
		if ctx.Err() != nil {
			result.Status = JobStatusCancelled
			result.Error = NewInfraError("run cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled).WithJob(job.ID)
			return
		}

		stepResult := e.runStep(ctx, job, step.Name, step.Run, step.Env)
		result.Steps = append(result.Steps, stepResult)
		e.metrics.StepCompleted(step.Name, string(stepResult.Status), stepResult.Duration)

		if stepResult.Status == JobStatusFailed {
			if step.ContinueOnError {
				log.WithStep(step.Name).Warn("step failed, continuing")
				continue
			}
			result.Status = JobStatusFailed
			result.Error = stepResult.Error
			return
		}
		if stepResult.Status == JobStatusCancelled {
			result.Status = JobStatusCancelled
			result.Error = stepResult.Error
			return
		}
	}

	result.Status = JobStatusSucceeded
	e.saveCache(ctx, job, cacheKey, log)
}

// runStep executes a single step command.
func (e *StepExecutor) runStep(ctx context.Context, job *Job, name, command string, overlay map[string]string) StepResult {
	started := time.Now()
	stepResult := StepResult{
		Name:      name,
		StartedAt: started,
		ExitCode:  -1,
	}

	if e.tracer != nil {
		spanCtx, span := e.tracer.StartStepSpan(ctx, job.ID, name)
		ctx = spanCtx
		defer span.End()
	}

	argv, err := SplitCommand(command)
	if err != nil {
		stepResult.Status = JobStatusFailed
		stepResult.Error = NewConfigError(fmt.Sprintf("malformed step command %q", command), err).
			WithJob(job.ID).WithStep(name)
		stepResult.Duration = time.Since(started)
		return stepResult
	}

	env := MergeEnv(os.Environ(), job.Env, overlay)
	output, exitCode, err := e.runner.Run(ctx, argv, env, e.workDir)
	stepResult.Output = output
	stepResult.ExitCode = exitCode
	stepResult.Duration = time.Since(started)

	switch {
	case ctx.Err() != nil:
		stepResult.Status = JobStatusCancelled
		stepResult.Error = NewInfraError("step cancelled", ctx.Err()).
			WithCode(ErrCodeCancelled).WithJob(job.ID).WithStep(name)
	case err != nil:
		stepResult.Status = JobStatusFailed
		stepResult.Error = NewInfraError("step could not be executed", err).
			WithJob(job.ID).WithStep(name)
	case exitCode != 0:
		stepResult.Status = JobStatusFailed
		stepResult.Error = NewStepError(fmt.Sprintf("step exited with code %d", exitCode), nil).
			WithCode(ErrCodeStepExit).WithJob(job.ID).WithStep(name)
	default:
		stepResult.Status = JobStatusSucceeded
	}

	return stepResult
}

// restoreCache restores the job's cache directory if a key can be derived.
// A miss or an underivable key is a cold start, never a failure.
func (e *StepExecutor) restoreCache(ctx context.Context, job *Job, log *telemetry.Logger) string {
	if e.cache == nil || job.Cache == nil {
		return ""
	}

	keyFiles := make([]string, len(job.Cache.KeyFiles))
	for i, f := range job.Cache.KeyFiles {
		keyFiles[i] = filepath.Join(e.workDir, f)
	}

	key, err := e.cache.Key(keyFiles, job.MatrixIdentity())
	if err != nil {
		log.WithError(err).Warn("cache key underivable, cold start")
		return ""
	}

	hit, err := e.cache.Restore(ctx, key, filepath.Join(e.workDir, job.Cache.Path))
	if err != nil {
		log.WithError(err).Warn("cache restore failed, cold start")
		e.metrics.CacheRestore("miss")
		return key
	}
	if hit {
		e.metrics.CacheRestore("hit")
		log.Debugf("cache restored for key %s", key)
	} else {
		e.metrics.CacheRestore("miss")
	}
	return key
}

// saveCache saves the job's cache directory after a successful run. Saves
// are keyed and idempotent, so they are safe to keep even if the run is
// later cancelled.
func (e *StepExecutor) saveCache(ctx context.Context, job *Job, key string, log *telemetry.Logger) {
	if e.cache == nil || job.Cache == nil || key == "" {
		return
	}
	if err := e.cache.Save(ctx, key, filepath.Join(e.workDir, job.Cache.Path)); err != nil {
		// Losing a cache write only costs a future rebuild.
		log.WithError(err).Warn("cache save failed")
		return
	}
	e.metrics.CacheSaved()
	log.Debugf("cache saved for key %s", key)
}

// ExecRunner runs commands via os/exec with the provided context.
type ExecRunner struct{}

// Run implements CommandRunner.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env []string, dir string) (string, int, error) {
	if len(argv) == 0 {
		return "", -1, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), exitErr.ExitCode(), nil
	}
	return out.String(), -1, err
}

// SplitCommand tokenizes a step command into an argv, honoring single and
// double quotes. Commands are executed directly, without a shell.
func SplitCommand(command string) ([]string, error) {
	var argv []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				argv = append(argv, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command %q", command)
	}
	if inToken {
		argv = append(argv, current.String())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

// MergeEnv layers environment maps over a base environment in "key=value"
// form. Later layers win; the result is sorted for determinism.
func MergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
