package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/emberci/ember/pkg/workflow"
)

// ExpandMatrix expands a matrix specification into the full cross-product of
// its axes, in row-major order over axes as declared: the first axis varies
// slowest. An empty axis list yields a single empty tuple. An axis with zero
// values is a configuration error and is rejected before scheduling.
//
// Expansion is deterministic and side-effect-free: for axis sizes n1..nk it
// produces exactly n1*...*nk tuples, each unique.
func ExpandMatrix(m workflow.Matrix) ([][]workflow.MatrixValue, error) {
	for _, axis := range m.Axes {
		if len(axis.Values) == 0 {
			return nil, NewConfigError(
				fmt.Sprintf("matrix axis %q has no values", axis.Name), nil).
				WithCode(ErrCodeEmptyAxis)
		}
	}

	tuples := [][]workflow.MatrixValue{nil}
	for _, axis := range m.Axes {
		next := make([][]workflow.MatrixValue, 0, len(tuples)*len(axis.Values))
		for _, tuple := range tuples {
			for _, value := range axis.Values {
				extended := make([]workflow.MatrixValue, len(tuple), len(tuple)+1)
				copy(extended, tuple)
				extended = append(extended, workflow.MatrixValue{Axis: axis.Name, Value: value})
				next = append(next, extended)
			}
		}
		tuples = next
	}

	return tuples, nil
}

// Materialize expands every job spec in the definition into concrete Jobs.
// Job specs are processed in name order so the resulting job list is
// deterministic; the jobs themselves carry no ordering guarantee and run
// independently.
func Materialize(def *workflow.Definition) ([]*Job, error) {
	names := make([]string, 0, len(def.Jobs))
	for name := range def.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	var jobs []*Job
	for _, name := range names {
		spec := def.Jobs[name]
		expanded, err := expandJob(name, &spec, def.Env)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, expanded...)
	}
	return jobs, nil
}

// expandJob expands one job spec into one Job per matrix tuple.
func expandJob(name string, spec *workflow.JobSpec, env map[string]string) ([]*Job, error) {
	var matrix workflow.Matrix
	if spec.Strategy != nil {
		matrix = spec.Strategy.Matrix
	}

	tuples, err := ExpandMatrix(matrix)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(tuples))
	for _, tuple := range tuples {
		job := &Job{
			ID:     jobID(name, tuple),
			Name:   name,
			RunsOn: spec.RunsOn,
			Matrix: tuple,
			Env:    env,
			Cache:  spec.Cache,
		}

		bindings := job.MatrixIdentity()
		for _, step := range spec.Steps {
			step.Run = expandExpr(step.Run, bindings)
			job.Steps = append(job.Steps, step)
		}
		if spec.Fuzz != nil {
			fuzz := *spec.Fuzz
			fuzz.Target = expandExpr(fuzz.Target, bindings)
			fuzz.Dir = expandExpr(fuzz.Dir, bindings)
			job.Fuzz = &fuzz
		}

		jobs = append(jobs, job)
	}
	return jobs, nil
}

// jobID builds the deterministic job identity from the name and tuple,
// e.g. "build (rust=stable)".
func jobID(name string, tuple []workflow.MatrixValue) string {
	if len(tuple) == 0 {
		return name
	}
	parts := make([]string, len(tuple))
	for i, mv := range tuple {
		parts[i] = mv.Axis + "=" + mv.Value
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", "))
}

// matrixExpr matches ${{ matrix.<axis> }} expressions in step commands and
// fuzz target references.
var matrixExpr = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// expandExpr substitutes matrix expressions with the job's axis values.
// Unknown axes are left untouched so the failure surfaces in the step
// command rather than silently expanding to an empty string.
func expandExpr(s string, bindings map[string]string) string {
	return matrixExpr.ReplaceAllStringFunc(s, func(match string) string {
		axis := matrixExpr.FindStringSubmatch(match)[1]
		if value, ok := bindings[axis]; ok {
			return value
		}
		return match
	})
}
