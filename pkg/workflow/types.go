package workflow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed workflow definition. It is immutable once loaded;
// the engine materializes jobs from it without mutating it.
type Definition struct {
	// Name is the human-readable workflow name.
	Name string `yaml:"name"`

	// Triggers declares the events that start a run.
	Triggers TriggerSet `yaml:"triggers"`

	// Env is the global environment applied to every job and step,
	// including flags such as treating compiler warnings as failures.
	Env map[string]string `yaml:"env,omitempty"`

	// Jobs maps job name to its specification. Jobs have no dependency
	// edges between them and run independently.
	Jobs map[string]JobSpec `yaml:"jobs" validate:"required,min=1,dive"`
}

// TriggerSet is the set of conditions under which a run is created.
type TriggerSet struct {
	// Push matches push events, filtered by branch.
	Push *PushTrigger `yaml:"push,omitempty"`

	// PullRequest matches every pull request event.
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty"`

	// Schedule matches timestamps against cron expressions.
	Schedule []ScheduleTrigger `yaml:"schedule,omitempty"`
}

// PushTrigger matches push events whose branch is in Branches.
type PushTrigger struct {
	Branches []string `yaml:"branches" validate:"required,min=1"`
}

// PullRequestTrigger matches all pull request events.
type PullRequestTrigger struct{}

// ScheduleTrigger matches events whose timestamp satisfies a cron expression
// in standard 5-field syntax.
type ScheduleTrigger struct {
	Cron string `yaml:"cron" validate:"required"`
}

// JobSpec describes one job: the platform it runs on, an optional matrix
// strategy, its ordered steps, optional cache settings, and an optional fuzz
// campaign block. A job carries either steps or a fuzz block, not both.
type JobSpec struct {
	// RunsOn is the target platform tag (e.g. "ubuntu-latest").
	RunsOn string `yaml:"runs_on" validate:"required"`

	// Strategy holds the matrix specification, if any.
	Strategy *Strategy `yaml:"strategy,omitempty"`

	// Steps is the ordered, fail-fast step sequence.
	Steps []StepSpec `yaml:"steps,omitempty" validate:"dive"`

	// Cache configures dependency caching for this job.
	Cache *CacheSpec `yaml:"cache,omitempty"`

	// Fuzz marks this job as a fuzz campaign instead of a step sequence.
	Fuzz *FuzzSpec `yaml:"fuzz,omitempty"`
}

// Strategy wraps the matrix specification.
type Strategy struct {
	Matrix Matrix `yaml:"matrix"`
}

// Matrix is an ordered mapping from axis name to its values. Axis order is
// the declaration order in the workflow file; expansion is the row-major
// cross-product with the first axis varying slowest.
type Matrix struct {
	Axes []MatrixAxis
}

// MatrixAxis is one named axis with its ordered values.
type MatrixAxis struct {
	Name   string
	Values []string
}

// MatrixValue is one axis-value binding in an expanded job's identity tuple.
type MatrixValue struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// UnmarshalYAML decodes a YAML mapping while preserving axis declaration
// order, which a plain map would lose.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping of axis name to values")
	}
	m.Axes = m.Axes[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		var axis MatrixAxis
		if err := node.Content[i].Decode(&axis.Name); err != nil {
			return fmt.Errorf("decode matrix axis name: %w", err)
		}
		if err := node.Content[i+1].Decode(&axis.Values); err != nil {
			return fmt.Errorf("decode values for matrix axis %q: %w", axis.Name, err)
		}
		m.Axes = append(m.Axes, axis)
	}
	return nil
}

// MarshalYAML encodes the matrix back into a mapping in declaration order.
func (m Matrix) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, axis := range m.Axes {
		var key, values yaml.Node
		if err := key.Encode(axis.Name); err != nil {
			return nil, err
		}
		if err := values.Encode(axis.Values); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &values)
	}
	return node, nil
}

// StepSpec is one step in a job: a named command with an optional
// environment overlay. Steps are fail-fast unless ContinueOnError is set.
type StepSpec struct {
	// Name is the human-readable step name.
	Name string `yaml:"name" validate:"required"`

	// Run is the command to execute. It is tokenized into an argv without
	// shell interpretation; matrix expressions of the form
	// ${{ matrix.<axis> }} are substituted at job materialization.
	Run string `yaml:"run" validate:"required"`

	// Env is the per-step environment overlay, layered over the global
	// and job environments.
	Env map[string]string `yaml:"env,omitempty"`

	// ContinueOnError lets the job proceed past a failing step.
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
}

// CacheSpec configures the dependency cache for a job. The cache key is
// derived from a fingerprint of KeyFiles plus the job's matrix identity, so
// distinct toolchain channels never share an entry.
type CacheSpec struct {
	// KeyFiles are the lockfiles fingerprinted into the cache key.
	KeyFiles []string `yaml:"key_files" validate:"required,min=1"`

	// Path is the directory restored from and saved to the cache.
	Path string `yaml:"path" validate:"required"`
}

// FuzzSpec configures a bounded fuzz campaign. The target is typically a
// matrix expression so one job spec fans out into one campaign per target.
type FuzzSpec struct {
	// Dir is the directory containing the fuzz targets.
	Dir string `yaml:"dir" validate:"required"`

	// Target is the fuzz target identifier.
	Target string `yaml:"target" validate:"required"`

	// Toolchain is the pinned toolchain used for the campaign. A dated pin
	// keeps cache keys and behavior stable over time.
	Toolchain string `yaml:"toolchain,omitempty"`

	// Jobs is the worker concurrency of the campaign.
	Jobs int `yaml:"jobs" validate:"required,min=1"`

	// TotalTime is the wall-clock budget for the whole campaign.
	TotalTime time.Duration `yaml:"total_time" validate:"required"`

	// RunTimeout is the per-input execution timeout. An input exceeding it
	// is a hang and is reported as a crash-class finding.
	RunTimeout time.Duration `yaml:"run_timeout" validate:"required"`
}

// UnmarshalYAML decodes the fuzz block, accepting Go duration strings
// (e.g. "120s") for the time fields.
func (f *FuzzSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Dir        string `yaml:"dir"`
		Target     string `yaml:"target"`
		Toolchain  string `yaml:"toolchain"`
		Jobs       int    `yaml:"jobs"`
		TotalTime  string `yaml:"total_time"`
		RunTimeout string `yaml:"run_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	f.Dir = raw.Dir
	f.Target = raw.Target
	f.Toolchain = raw.Toolchain
	f.Jobs = raw.Jobs
	if raw.TotalTime != "" {
		d, err := time.ParseDuration(raw.TotalTime)
		if err != nil {
			return fmt.Errorf("parse fuzz total_time: %w", err)
		}
		f.TotalTime = d
	}
	if raw.RunTimeout != "" {
		d, err := time.ParseDuration(raw.RunTimeout)
		if err != nil {
			return fmt.Errorf("parse fuzz run_timeout: %w", err)
		}
		f.RunTimeout = d
	}
	return nil
}
