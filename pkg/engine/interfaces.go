package engine

import (
	"context"
)

// Executor executes a single job and reports its result. Implementations
// own no persistent state; the scheduler owns all RunResult mutation.
type Executor interface {
	// ExecuteJob runs the job to a terminal status. It never returns a nil
	// result: failures are carried inside JobResult rather than as a
	// separate error, so one job's failure stays isolated from siblings.
	ExecuteJob(ctx context.Context, job *Job) *JobResult
}

// CampaignRunner drives a fuzz campaign for a fuzz-tagged job. The target
// is an opaque executable that accepts a time budget, worker count, and
// per-run timeout.
type CampaignRunner interface {
	// Run executes the campaign to a terminal state. Budget expiry with no
	// finding is success; crashes, hangs, and tool failures are carried in
	// the result.
	Run(ctx context.Context, job *Job) *CampaignResult
}

// Cache is the engine-facing dependency cache contract. Keys are derived
// deterministically, a restore miss is a cold start rather than an error,
// and saves are idempotent per key with last-writer-wins on races.
type Cache interface {
	// Key derives the deterministic cache key from the fingerprint of the
	// given lockfiles and the job's matrix identity.
	Key(keyFiles []string, identity map[string]string) (string, error)

	// Restore copies the cached blob for key into dest. It returns false
	// on a miss, which is not an error.
	Restore(ctx context.Context, key, dest string) (bool, error)

	// Save stores the contents of src under key. Re-saving an identical
	// key is harmless.
	Save(ctx context.Context, key, src string) error
}

// EventPublisher receives run timeline events. Publishing must not block
// job execution; implementations decide buffering and delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event)
}

// CommandRunner runs one external command to completion. It exists so the
// step executor can be tested without spawning processes.
type CommandRunner interface {
	// Run executes argv with the given environment and working directory,
	// returning the combined output and process exit code. A non-zero exit
	// is reported through exitCode, not err; err is reserved for failures
	// to start or observe the process.
	Run(ctx context.Context, argv []string, env []string, dir string) (output string, exitCode int, err error)
}
