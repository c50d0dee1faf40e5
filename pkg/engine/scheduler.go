package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberci/ember/pkg/telemetry"
)

// Scheduler executes expanded jobs over a bounded worker pool. Jobs have no
// dependency edges between them, so every job is eligible immediately; the
// pool size only bounds parallelism. Failures are isolated per job: one job
// failing neither halts nor cancels its siblings, but the aggregate run
// status becomes failed. Nothing is retried; a failed job is terminal.
type Scheduler struct {
	// maxParallel is the maximum number of concurrent workers.
	maxParallel int

	// executor executes individual jobs.
	executor Executor

	// events receives run timeline events, optional.
	events EventPublisher

	// metrics records run and job activity, optional.
	metrics *telemetry.Metrics

	// mu protects result mutation during execution. The scheduler is the
	// exclusive owner of RunResult mutation.
	mu sync.Mutex
}

// NewScheduler creates a scheduler with the given worker pool size.
func NewScheduler(maxParallel int, executor Executor, events EventPublisher, metrics *telemetry.Metrics) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Scheduler{
		maxParallel: maxParallel,
		executor:    executor,
		events:      events,
		metrics:     metrics,
	}
}

// Execute runs all jobs to completion and returns the aggregate RunResult.
// The run is identified by runID; an empty runID gets a generated one.
// Cancelling ctx cooperatively stops the run: queued jobs are marked
// cancelled and in-flight jobs are signalled to stop. Cache entries already
// saved by completed steps are kept; they are keyed and idempotent.
func (s *Scheduler) Execute(ctx context.Context, runID, workflowName string, jobs []*Job) *RunResult {
	if runID == "" {
		runID = uuid.New().String()
	}
	run := &RunResult{
		ID:        runID,
		Workflow:  workflowName,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Jobs:      make(map[string]*JobResult, len(jobs)),
	}
	for _, job := range jobs {
		run.Jobs[job.ID] = &JobResult{JobID: job.ID, Status: JobStatusPending}
	}

	log := telemetry.FromContext(ctx).WithRunID(run.ID)
	log.Infof("run started with %d jobs, %d workers", len(jobs), s.maxParallel)
	s.publishEvent(ctx, run.ID, "", "", EventTypeRunStarted, "run started")
	s.metrics.RunStarted()

	s.executeAll(ctx, run, jobs, log)

	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	run.Summary = s.summarize(run)
	run.Status = s.aggregateStatus(ctx, run)

	s.metrics.RunCompleted(string(run.Status), run.Duration)
	s.publishEvent(ctx, run.ID, "", "", EventTypeRunCompleted, "run "+string(run.Status))
	log.Infof("run completed: %s (%d succeeded, %d failed, %d cancelled)",
		run.Status, run.Summary.Succeeded, run.Summary.Failed, run.Summary.Cancelled)

	return run
}

// executeAll dispatches jobs over the worker pool and waits for them.
func (s *Scheduler) executeAll(ctx context.Context, run *RunResult, jobs []*Job, log *telemetry.Logger) {
	workerCount := s.maxParallel
	if len(jobs) < workerCount {
		workerCount = len(jobs)
	}

	queue := make(chan *Job, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if ctx.Err() != nil {
					s.markCancelled(run, job)
					continue
				}
				s.executeJob(ctx, run, job, log)
			}
		}()
	}
	wg.Wait()
}

// executeJob runs a single job and records its result. Job failure is kept
// inside the result; it never propagates to sibling jobs.
func (s *Scheduler) executeJob(ctx context.Context, run *RunResult, job *Job, log *telemetry.Logger) {
	s.setStatus(run, job.ID, JobStatusRunning)
	s.publishEvent(ctx, run.ID, job.ID, "", EventTypeJobStarted, "job started")
	s.metrics.JobStarted()

	result := s.executor.ExecuteJob(ctx, job)

	s.mu.Lock()
	run.Jobs[job.ID] = result
	s.mu.Unlock()

	s.metrics.JobCompleted(job.Name, string(result.Status), result.Duration)
	if result.Status == JobStatusSucceeded {
		s.publishEvent(ctx, run.ID, job.ID, "", EventTypeJobCompleted, "job succeeded")
	} else {
		msg := "job " + string(result.Status)
		if result.Error != nil {
			msg = result.Error.Error()
		}
		s.publishEvent(ctx, run.ID, job.ID, "", EventTypeJobFailed, msg)
		log.WithJobID(job.ID).Error(msg)
	}
}

// markCancelled records a job that never started because the run was
// cancelled while it was still queued.
func (s *Scheduler) markCancelled(run *RunResult, job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Jobs[job.ID] = &JobResult{
		JobID:  job.ID,
		Status: JobStatusCancelled,
		Error: NewInfraError("run cancelled before job started", nil).
			WithCode(ErrCodeCancelled).WithJob(job.ID),
	}
}

// setStatus updates a job's status in the run result.
func (s *Scheduler) setStatus(run *RunResult, jobID string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := run.Jobs[jobID]; ok {
		r.Status = status
	}
}

// summarize counts jobs by terminal status.
func (s *Scheduler) summarize(run *RunResult) RunSummary {
	summary := RunSummary{Total: len(run.Jobs)}
	for _, job := range run.Jobs {
		switch job.Status {
		case JobStatusSucceeded:
			summary.Succeeded++
		case JobStatusFailed:
			summary.Failed++
		case JobStatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// aggregateStatus derives the run status: cancelled if the run was aborted,
// failed if any job failed, succeeded otherwise.
func (s *Scheduler) aggregateStatus(ctx context.Context, run *RunResult) RunStatus {
	if ctx.Err() != nil {
		return RunStatusCancelled
	}
	if run.Summary.Failed > 0 || run.Summary.Cancelled > 0 {
		return RunStatusFailed
	}
	return RunStatusSucceeded
}

// publishEvent publishes a run timeline event without blocking execution.
func (s *Scheduler) publishEvent(ctx context.Context, runID, jobID, step string, eventType EventType, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		JobID:     jobID,
		Step:      step,
		Message:   message,
	})
}
