package engine

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/emberci/ember/pkg/workflow"
)

// fakeRunner scripts exit codes per command and records what ran.
type fakeRunner struct {
	mu       sync.Mutex
	exitFor  map[string]int
	commands []string
}

func (r *fakeRunner) Run(_ context.Context, argv []string, _ []string, _ string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	command := strings.Join(argv, " ")
	r.commands = append(r.commands, command)
	return "output of " + command, r.exitFor[command], nil
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func stepJob(id string, steps ...workflow.StepSpec) *Job {
	return &Job{ID: id, Name: id, RunsOn: "ubuntu-latest", Steps: steps}
}

func TestExecuteJobStepsInOrder(t *testing.T) {
	runner := &fakeRunner{exitFor: map[string]int{}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner})

	job := stepJob("build",
		workflow.StepSpec{Name: "fmt", Run: "cargo fmt --check"},
		workflow.StepSpec{Name: "build", Run: "cargo build"},
		workflow.StepSpec{Name: "test", Run: "cargo test"},
	)

	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", result.Status, result.Error)
	}
	want := []string{"cargo fmt --check", "cargo build", "cargo test"}
	if got := runner.ran(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected commands %v, got %v", want, got)
	}
	if len(result.Steps) != 3 {
		t.Errorf("expected 3 step results, got %d", len(result.Steps))
	}
}

func TestExecuteJobFailFast(t *testing.T) {
	runner := &fakeRunner{exitFor: map[string]int{"cargo build": 101}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner})

	job := stepJob("build",
		workflow.StepSpec{Name: "fmt", Run: "cargo fmt --check"},
		workflow.StepSpec{Name: "build", Run: "cargo build"},
		workflow.StepSpec{Name: "test", Run: "cargo test"},
	)

	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	// The failing step aborts the remainder.
	want := []string{"cargo fmt --check", "cargo build"}
	if got := runner.ran(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected commands %v, got %v", want, got)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(result.Steps))
	}

	failed := result.Steps[1]
	if failed.ExitCode != 101 {
		t.Errorf("expected exit code 101, got %d", failed.ExitCode)
	}
	if failed.Output == "" {
		t.Error("failing step output not retained")
	}
	if !IsStepFailure(result.Error) {
		t.Errorf("expected step failure class, got %v", result.Error)
	}
	if result.Error.Step != "build" {
		t.Errorf("expected step context %q, got %q", "build", result.Error.Step)
	}
}

func TestExecuteJobContinueOnError(t *testing.T) {
	runner := &fakeRunner{exitFor: map[string]int{"cargo bench": 1}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner})

	job := stepJob("build",
		workflow.StepSpec{Name: "bench", Run: "cargo bench", ContinueOnError: true},
		workflow.StepSpec{Name: "test", Run: "cargo test"},
	)

	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", result.Status, result.Error)
	}
	if got := runner.ran(); len(got) != 2 {
		t.Errorf("expected both steps to run, got %v", got)
	}
	if result.Steps[0].Status != JobStatusFailed {
		t.Errorf("tolerated step should still report failed, got %s", result.Steps[0].Status)
	}
}

func TestExecuteJobCancelled(t *testing.T) {
	runner := &fakeRunner{exitFor: map[string]int{}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := stepJob("build", workflow.StepSpec{Name: "build", Run: "cargo build"})
	result := executor.ExecuteJob(ctx, job)

	if result.Status != JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if len(runner.ran()) != 0 {
		t.Error("no step should run after cancellation")
	}
	if result.Error == nil || result.Error.Code != ErrCodeCancelled {
		t.Errorf("expected %s error, got %v", ErrCodeCancelled, result.Error)
	}
}

func TestExecuteJobMalformedCommand(t *testing.T) {
	executor := NewStepExecutor(ExecutorConfig{Runner: &fakeRunner{}})

	job := stepJob("build", workflow.StepSpec{Name: "bad", Run: `cargo "unterminated`})
	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !IsConfig(result.Error) {
		t.Errorf("expected configuration error, got %v", result.Error)
	}
}

// fakeCache tracks restore and save calls against a fixed key.
type fakeCache struct {
	key      string
	hit      bool
	restored []string
	saved    []string
}

func (c *fakeCache) Key([]string, map[string]string) (string, error) { return c.key, nil }

func (c *fakeCache) Restore(_ context.Context, key, _ string) (bool, error) {
	c.restored = append(c.restored, key)
	return c.hit, nil
}

func (c *fakeCache) Save(_ context.Context, key, _ string) error {
	c.saved = append(c.saved, key)
	return nil
}

func TestExecuteJobCacheLifecycle(t *testing.T) {
	cache := &fakeCache{key: "abc123", hit: false}
	runner := &fakeRunner{exitFor: map[string]int{}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner, Cache: cache})

	job := stepJob("build", workflow.StepSpec{Name: "build", Run: "cargo build"})
	job.Cache = &workflow.CacheSpec{KeyFiles: []string{"Cargo.lock"}, Path: "target"}

	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", result.Status, result.Error)
	}
	// A miss is a cold start, not a failure, and the cache is populated after
	// the job succeeds.
	if len(cache.restored) != 1 || cache.restored[0] != "abc123" {
		t.Errorf("expected one restore for key abc123, got %v", cache.restored)
	}
	if len(cache.saved) != 1 || cache.saved[0] != "abc123" {
		t.Errorf("expected one save for key abc123, got %v", cache.saved)
	}
}

func TestExecuteJobNoSaveOnFailure(t *testing.T) {
	cache := &fakeCache{key: "abc123"}
	runner := &fakeRunner{exitFor: map[string]int{"cargo build": 1}}
	executor := NewStepExecutor(ExecutorConfig{Runner: runner, Cache: cache})

	job := stepJob("build", workflow.StepSpec{Name: "build", Run: "cargo build"})
	job.Cache = &workflow.CacheSpec{KeyFiles: []string{"Cargo.lock"}, Path: "target"}

	result := executor.ExecuteJob(context.Background(), job)

	if result.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(cache.saved) != 0 {
		t.Errorf("failed job must not save its cache, got %v", cache.saved)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "cargo build", want: []string{"cargo", "build"}},
		{in: "cargo test --all-features", want: []string{"cargo", "test", "--all-features"}},
		{in: `sh -c "cargo doc"`, want: []string{"sh", "-c", "cargo doc"}},
		{in: "echo 'two words'", want: []string{"echo", "two words"}},
		{in: "  spaced   out  ", want: []string{"spaced", "out"}},
		{in: `broken "quote`, wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := SplitCommand(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SplitCommand(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitCommand(%q): unexpected error %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitCommand(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/ci"}
	merged := MergeEnv(base,
		map[string]string{"RUSTFLAGS": "-D warnings", "HOME": "/tmp"},
		map[string]string{"RUSTFLAGS": "-C debuginfo=0"},
	)

	want := []string{
		"HOME=/tmp",
		"PATH=/usr/bin",
		"RUSTFLAGS=-C debuginfo=0",
	}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("expected %v, got %v", want, merged)
	}
}
