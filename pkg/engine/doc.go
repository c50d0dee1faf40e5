// Package engine implements the Ember orchestration core: matrix expansion
// of workflow jobs into concrete runnable units, parallel job scheduling
// with per-job failure isolation, and sequential fail-fast step execution
// with dependency cache integration.
//
// The flow is: a workflow Definition is materialized into Jobs (one per
// matrix tuple), the Scheduler dispatches them over a bounded worker pool,
// and each job either runs its step sequence through the StepExecutor or,
// for fuzz-tagged jobs, delegates to a CampaignRunner.
//
// The Scheduler exclusively owns RunResult mutation; executors report
// results back and hold no persistent state of their own.
package engine
