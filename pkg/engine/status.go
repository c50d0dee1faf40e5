package engine

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the status of a single job within a run.
type JobStatus string

const (
	// JobStatusPending indicates the job is queued but not yet started.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded indicates every step or the campaign completed.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed indicates a step, campaign, or tool failed.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the run was cancelled before the job
	// reached a terminal state of its own.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the job status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded,
		JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = JobStatus(str)
	return s.Validate()
}

// RunStatus represents the aggregate status of a workflow run.
type RunStatus string

const (
	// RunStatusPending indicates the run is created but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates at least one job is still in flight.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every job succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one job failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the operator.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// CampaignState represents the state of a fuzz campaign.
type CampaignState string

const (
	// CampaignStarting indicates toolchain selection and tool setup are
	// in progress.
	CampaignStarting CampaignState = "starting"

	// CampaignRunning indicates workers are fuzzing within the budget.
	CampaignRunning CampaignState = "running"

	// CampaignStoppedByBudget indicates the wall-clock budget elapsed with
	// no finding. This is success.
	CampaignStoppedByBudget CampaignState = "stopped_by_budget"

	// CampaignStoppedByCrash indicates a worker reported a crashing or
	// hanging input. This is a job failure with a retained reproducer.
	CampaignStoppedByCrash CampaignState = "stopped_by_crash"

	// CampaignStoppedByError indicates an infrastructure failure, such as
	// fuzz tool installation failing.
	CampaignStoppedByError CampaignState = "stopped_by_error"
)

// IsTerminal returns true if the campaign state is final.
func (s CampaignState) IsTerminal() bool {
	return s == CampaignStoppedByBudget || s == CampaignStoppedByCrash ||
		s == CampaignStoppedByError
}

// Validate checks if the campaign state is valid.
func (s CampaignState) Validate() error {
	switch s {
	case CampaignStarting, CampaignRunning, CampaignStoppedByBudget,
		CampaignStoppedByCrash, CampaignStoppedByError:
		return nil
	default:
		return fmt.Errorf("invalid campaign state: %s", s)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeJobStarted indicates a job has started execution.
	EventTypeJobStarted EventType = "job_started"

	// EventTypeJobCompleted indicates a job has completed successfully.
	EventTypeJobCompleted EventType = "job_completed"

	// EventTypeJobFailed indicates a job has failed.
	EventTypeJobFailed EventType = "job_failed"

	// EventTypeStepStarted indicates a step has started.
	EventTypeStepStarted EventType = "step_started"

	// EventTypeStepCompleted indicates a step has completed.
	EventTypeStepCompleted EventType = "step_completed"

	// EventTypeCacheRestored indicates a cache entry was restored.
	EventTypeCacheRestored EventType = "cache_restored"

	// EventTypeCacheSaved indicates a cache entry was saved.
	EventTypeCacheSaved EventType = "cache_saved"

	// EventTypeFinding indicates a fuzz campaign reported a finding.
	EventTypeFinding EventType = "fuzz_finding"
)

// Severity returns the log severity of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeJobFailed, EventTypeFinding:
		return "error"
	default:
		return "info"
	}
}
