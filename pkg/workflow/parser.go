package workflow

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// validate is the shared validator instance for workflow structs.
var validate = validator.New()

// Parse parses YAML content into a workflow Definition and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads and parses a workflow definition from a file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Validate checks a definition for structural and semantic errors. A
// definition that fails validation never produces a run.
func Validate(def *Definition) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	if def.Triggers.Push == nil && def.Triggers.PullRequest == nil && len(def.Triggers.Schedule) == 0 {
		return fmt.Errorf("invalid workflow: no triggers declared")
	}

	for _, sched := range def.Triggers.Schedule {
		if _, err := cron.ParseStandard(sched.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
		}
	}

	for name, job := range def.Jobs {
		if err := validateJob(name, &job); err != nil {
			return err
		}
	}

	return nil
}

func validateJob(name string, job *JobSpec) error {
	if job.Fuzz == nil && len(job.Steps) == 0 {
		return fmt.Errorf("invalid job %q: declares neither steps nor a fuzz block", name)
	}
	if job.Fuzz != nil && len(job.Steps) > 0 {
		return fmt.Errorf("invalid job %q: declares both steps and a fuzz block", name)
	}

	if job.Strategy != nil {
		seen := make(map[string]bool, len(job.Strategy.Matrix.Axes))
		for _, axis := range job.Strategy.Matrix.Axes {
			if len(axis.Values) == 0 {
				return fmt.Errorf("invalid job %q: matrix axis %q has no values", name, axis.Name)
			}
			if seen[axis.Name] {
				return fmt.Errorf("invalid job %q: duplicate matrix axis %q", name, axis.Name)
			}
			seen[axis.Name] = true
		}
	}

	return nil
}
