package fuzz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emberci/ember/pkg/engine"
	"github.com/emberci/ember/pkg/workflow"
)

// scriptedRunner returns a fixed outcome and records the argv it was given.
type scriptedRunner struct {
	output   string
	exitCode int
	err      error
	argv     []string
}

func (r *scriptedRunner) Run(_ context.Context, argv []string, _ []string, _ string) (string, int, error) {
	r.argv = argv
	return r.output, r.exitCode, r.err
}

type failingInstaller struct{}

func (failingInstaller) Install(context.Context, string) error {
	return errors.New("rustup: no such toolchain")
}

type recordingInstaller struct {
	toolchain string
}

func (i *recordingInstaller) Install(_ context.Context, toolchain string) error {
	i.toolchain = toolchain
	return nil
}

func fuzzJob(target string) *engine.Job {
	return &engine.Job{
		ID:   "fuzz (target=" + target + ")",
		Name: "fuzz",
		Fuzz: &workflow.FuzzSpec{
			Dir:        "fuzz",
			Target:     target,
			Jobs:       4,
			TotalTime:  120 * time.Second,
			RunTimeout: 30 * time.Second,
		},
	}
}

func TestRunStoppedByBudget(t *testing.T) {
	exec := &scriptedRunner{output: "Done: no crashes", exitCode: 0}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      exec,
	})

	result := runner.Run(context.Background(), fuzzJob("parse"))

	if result.State != engine.CampaignStoppedByBudget {
		t.Fatalf("expected stopped_by_budget, got %s (%v)", result.State, result.Error)
	}
	if result.Error != nil {
		t.Errorf("budget stop is success, got error %v", result.Error)
	}
	if result.ReproducerPath != "" {
		t.Errorf("budget stop must not report a reproducer, got %q", result.ReproducerPath)
	}
}

// blockingRunner simulates a target that ignores its budget flag: it only
// returns when its context is cancelled.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ []string, _ []string, _ string) (string, int, error) {
	<-ctx.Done()
	return "", -1, ctx.Err()
}

func TestRunBudgetDeadlineStopsCampaign(t *testing.T) {
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      blockingRunner{},
		Grace:       50 * time.Millisecond,
	})

	job := fuzzJob("parse")
	job.Fuzz.TotalTime = 10 * time.Millisecond

	result := runner.Run(context.Background(), job)

	// The target never honored its budget flag; the runner's own deadline
	// killed it, and with no finding markers that is a budget stop.
	if result.State != engine.CampaignStoppedByBudget {
		t.Fatalf("expected stopped_by_budget, got %s (%v)", result.State, result.Error)
	}
	if result.Error != nil {
		t.Errorf("budget stop is success, got error %v", result.Error)
	}
	if result.Duration < 10*time.Millisecond {
		t.Errorf("campaign stopped before its budget elapsed: %s", result.Duration)
	}
}

func TestRunOperatorAbortIsInfra(t *testing.T) {
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      blockingRunner{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := runner.Run(ctx, fuzzJob("parse"))

	// An abort is not a campaign outcome: not a finding, not a budget stop.
	if result.State != engine.CampaignStoppedByError {
		t.Fatalf("expected stopped_by_error, got %s", result.State)
	}
	if !engine.IsInfra(result.Error) {
		t.Errorf("abort is infrastructure-class, got %v", result.Error)
	}
	if result.Error.Code != engine.ErrCodeCancelled {
		t.Errorf("expected code %s, got %s", engine.ErrCodeCancelled, result.Error.Code)
	}
}

func TestRunPassesBudgetFlags(t *testing.T) {
	exec := &scriptedRunner{exitCode: 0}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      exec,
	})

	runner.Run(context.Background(), fuzzJob("parse"))

	joined := strings.Join(exec.argv, " ")
	for _, flag := range []string{"-jobs=4", "-max_total_time=120", "-timeout=30"} {
		if !strings.Contains(joined, flag) {
			t.Errorf("expected %s in argv, got %v", flag, exec.argv)
		}
	}
	if !strings.Contains(joined, "-artifact_prefix=") {
		t.Errorf("expected artifact prefix in argv, got %v", exec.argv)
	}
}

func TestRunStoppedByCrash(t *testing.T) {
	artifactDir := t.TempDir()
	targetDir := filepath.Join(artifactDir, "parse")
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		t.Fatal(err)
	}
	reproducer := filepath.Join(targetDir, "crash-deadbeef")
	if err := os.WriteFile(reproducer, []byte("crashing input"), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := &scriptedRunner{
		output:   "ERROR: AddressSanitizer: heap-buffer-overflow\nSUMMARY: 1 crash",
		exitCode: 77,
	}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: artifactDir,
		Runner:      exec,
	})

	result := runner.Run(context.Background(), fuzzJob("parse"))

	if result.State != engine.CampaignStoppedByCrash {
		t.Fatalf("expected stopped_by_crash, got %s", result.State)
	}
	if !engine.IsFinding(result.Error) {
		t.Errorf("crash stop carries a finding error, got %v", result.Error)
	}
	if result.Error.Code != engine.ErrCodeFuzzCrash {
		t.Errorf("expected code %s, got %s", engine.ErrCodeFuzzCrash, result.Error.Code)
	}
	if result.ReproducerPath != reproducer {
		t.Errorf("expected reproducer %s, got %s", reproducer, result.ReproducerPath)
	}
	if result.Output == "" {
		t.Error("campaign output not retained")
	}
}

func TestRunHangIsAFinding(t *testing.T) {
	exec := &scriptedRunner{
		output:   "ALARM: working on the last unit for 31 seconds\nERROR: libFuzzer: timeout after 30 seconds",
		exitCode: 70,
	}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      exec,
	})

	result := runner.Run(context.Background(), fuzzJob("serde"))

	if result.State != engine.CampaignStoppedByCrash {
		t.Fatalf("a hang is a crash-class finding, got %s", result.State)
	}
	if result.Error.Code != engine.ErrCodeFuzzHang {
		t.Errorf("expected code %s, got %s", engine.ErrCodeFuzzHang, result.Error.Code)
	}
}

func TestRunInstallFailureIsInfra(t *testing.T) {
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Installer:   failingInstaller{},
		Runner:      &scriptedRunner{},
	})

	result := runner.Run(context.Background(), fuzzJob("parse"))

	if result.State != engine.CampaignStoppedByError {
		t.Fatalf("expected stopped_by_error, got %s", result.State)
	}
	if !engine.IsInfra(result.Error) {
		t.Errorf("install failure is infrastructure, not a finding: %v", result.Error)
	}
	if result.Error.Code != engine.ErrCodeToolchainInstall {
		t.Errorf("expected code %s, got %s", engine.ErrCodeToolchainInstall, result.Error.Code)
	}
}

func TestRunInvocationFailureIsInfra(t *testing.T) {
	exec := &scriptedRunner{err: errors.New("exec: target not found")}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Runner:      exec,
	})

	result := runner.Run(context.Background(), fuzzJob("parse"))

	if result.State != engine.CampaignStoppedByError {
		t.Fatalf("expected stopped_by_error, got %s", result.State)
	}
	if !engine.IsInfra(result.Error) {
		t.Errorf("invocation failure is infrastructure, got %v", result.Error)
	}
}

func TestRunUsesPinnedToolchain(t *testing.T) {
	installer := &recordingInstaller{}
	runner := NewRunner(Config{
		WorkDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Installer:   installer,
		Runner:      &scriptedRunner{exitCode: 0},
	})

	job := fuzzJob("parse")
	runner.Run(context.Background(), job)
	if installer.toolchain != DefaultToolchain {
		t.Errorf("expected default pin %s, got %s", DefaultToolchain, installer.toolchain)
	}

	job.Fuzz.Toolchain = "nightly-2026-01-15"
	runner.Run(context.Background(), job)
	if installer.toolchain != "nightly-2026-01-15" {
		t.Errorf("declared pin not honored, got %s", installer.toolchain)
	}
}

func TestCommandInstaller(t *testing.T) {
	exec := &scriptedRunner{exitCode: 0}
	installer := &CommandInstaller{
		Command: "rustup toolchain install {toolchain}",
		Runner:  exec,
	}

	if err := installer.Install(context.Background(), "nightly-2026-07-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"rustup", "toolchain", "install", "nightly-2026-07-01"}
	if len(exec.argv) != len(want) {
		t.Fatalf("expected argv %v, got %v", want, exec.argv)
	}
	for i := range want {
		if exec.argv[i] != want[i] {
			t.Errorf("argv[%d]: expected %q, got %q", i, want[i], exec.argv[i])
		}
	}

	failing := &CommandInstaller{
		Command: "rustup toolchain install {toolchain}",
		Runner:  &scriptedRunner{exitCode: 1, output: "no such toolchain"},
	}
	if err := failing.Install(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for non-zero install exit")
	}
}
