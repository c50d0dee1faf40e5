package engine

import (
	"time"

	"github.com/emberci/ember/pkg/workflow"
)

// Job is one concrete runnable unit produced by expanding a job spec's
// matrix. Its identity is the job name plus the ordered axis-value tuple,
// which is deterministic across runs.
type Job struct {
	// ID is the unique job identity, e.g. "build (rust=stable)".
	ID string `json:"id"`

	// Name is the job spec name the job was expanded from.
	Name string `json:"name"`

	// RunsOn is the target platform tag.
	RunsOn string `json:"runs_on"`

	// Matrix is the axis-value tuple in axis declaration order.
	Matrix []workflow.MatrixValue `json:"matrix,omitempty"`

	// Env is the global workflow environment. The executor layers job and
	// step overlays on top; flags such as deny-warnings propagate to every
	// step through it.
	Env map[string]string `json:"env,omitempty"`

	// Steps is the ordered step sequence with matrix expressions expanded.
	Steps []workflow.StepSpec `json:"steps,omitempty"`

	// Cache is the job's dependency cache configuration, if any.
	Cache *workflow.CacheSpec `json:"cache,omitempty"`

	// Fuzz is the campaign configuration for fuzz-tagged jobs. When set,
	// the job delegates to a CampaignRunner instead of running steps.
	Fuzz *workflow.FuzzSpec `json:"fuzz,omitempty"`
}

// MatrixIdentity returns the axis-value tuple as a map for cache keying.
func (j *Job) MatrixIdentity() map[string]string {
	identity := make(map[string]string, len(j.Matrix))
	for _, mv := range j.Matrix {
		identity[mv.Axis] = mv.Value
	}
	return identity
}

// StepResult records the outcome of one step.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Status is the terminal step status.
	Status JobStatus `json:"status"`

	// ExitCode is the process exit code, -1 if the process never ran.
	ExitCode int `json:"exit_code"`

	// Output is the combined stdout and stderr of the step, kept for
	// diagnostics on failure.
	Output string `json:"output,omitempty"`

	// StartedAt is when the step started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the step execution time.
	Duration time.Duration `json:"duration"`

	// Error is the classified error if the step failed.
	Error *Error `json:"error,omitempty"`
}

// CampaignResult records the outcome of a fuzz campaign.
type CampaignResult struct {
	// Target is the fuzz target identifier.
	Target string `json:"target"`

	// State is the terminal campaign state.
	State CampaignState `json:"state"`

	// StartedAt is when the campaign entered the running state.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock time the campaign ran.
	Duration time.Duration `json:"duration"`

	// ReproducerPath is the retained crashing or hanging input, set only
	// for stopped_by_crash.
	ReproducerPath string `json:"reproducer_path,omitempty"`

	// Output is the tail of the campaign's combined output.
	Output string `json:"output,omitempty"`

	// Error is the classified error for crash and infrastructure stops.
	Error *Error `json:"error,omitempty"`
}

// JobResult is the per-job outcome inside a run. Step-level and
// campaign-level detail stays inspectable even when only the aggregate run
// status surfaces to the operator.
type JobResult struct {
	// JobID is the job identity this result belongs to.
	JobID string `json:"job_id"`

	// Status is the job status.
	Status JobStatus `json:"status"`

	// Steps holds per-step results in execution order.
	Steps []StepResult `json:"steps,omitempty"`

	// Campaign holds the fuzz campaign result for fuzz jobs.
	Campaign *CampaignResult `json:"campaign,omitempty"`

	// StartedAt is when the job started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the job execution time.
	Duration time.Duration `json:"duration"`

	// Error is the classified error if the job failed.
	Error *Error `json:"error,omitempty"`
}

// RunResult is the aggregate outcome of a workflow run. The scheduler is
// the only mutator; once Execute returns the result is immutable.
type RunResult struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Workflow is the workflow name.
	Workflow string `json:"workflow,omitempty"`

	// Status is the aggregate run status: failed if any job failed,
	// cancelled if the run was aborted, succeeded otherwise.
	Status RunStatus `json:"status"`

	// Jobs maps job ID to its result.
	Jobs map[string]*JobResult `json:"jobs"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Summary provides counts by job status.
	Summary RunSummary `json:"summary"`
}

// ExitCode maps the run result to the engine's process exit code contract:
// 0 iff every job succeeded, 2 if any failure was infrastructure-class,
// 1 otherwise.
func (r *RunResult) ExitCode() int {
	if r.Status == RunStatusSucceeded {
		return ExitOK
	}
	for _, job := range r.Jobs {
		if job.Error != nil && (IsInfra(job.Error) || IsConfig(job.Error)) {
			return ExitInfra
		}
	}
	return ExitFailure
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of jobs.
	Total int `json:"total"`

	// Succeeded is the number of jobs that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of jobs that failed.
	Failed int `json:"failed"`

	// Cancelled is the number of jobs cancelled before completion.
	Cancelled int `json:"cancelled"`
}

// Event is a timeline event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run this event belongs to.
	RunID string `json:"run_id"`

	// JobID is the job this event refers to, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Step is the step name, if applicable.
	Step string `json:"step,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`
}
