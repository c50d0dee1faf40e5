package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for reporting and exit-code mapping.
// Nothing is retried automatically: a failed job is terminal regardless of
// class, but infrastructure failures are distinguished in diagnostics from
// genuine test, lint, or fuzz failures.
type ErrorClass string

const (
	// ErrorClassConfig indicates a malformed workflow definition, such as
	// a matrix axis with no values. Fatal: the run never starts.
	ErrorClassConfig ErrorClass = "configuration"

	// ErrorClassStep indicates a step exited non-zero. Fails the owning
	// job fail-fast; sibling jobs are unaffected.
	ErrorClassStep ErrorClass = "step_failure"

	// ErrorClassFinding indicates a fuzz campaign discovered a crashing or
	// hanging input. Fails the owning job; the reproducer is retained.
	ErrorClassFinding ErrorClass = "fuzz_finding"

	// ErrorClassInfra indicates a toolchain install or tool invocation
	// failure. Fails the owning job but is not a test failure.
	ErrorClassInfra ErrorClass = "infrastructure"
)

// Error is a classified engine error with job and step context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Job is the job ID that produced the error, if applicable.
	Job string `json:"job,omitempty"`

	// Step is the step name that produced the error, if applicable.
	Step string `json:"step,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information, such as
	// the path to a retained fuzz reproducer.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	switch {
	case e.Job != "" && e.Step != "":
		return fmt.Sprintf("[%s] %s (job=%s, step=%s)", e.Class, msg, e.Job, e.Step)
	case e.Job != "":
		return fmt.Sprintf("[%s] %s (job=%s)", e.Class, msg, e.Job)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *Error {
	return &Error{Class: ErrorClassConfig, Message: message, Err: err}
}

// NewStepError creates a step failure error.
func NewStepError(message string, err error) *Error {
	return &Error{Class: ErrorClassStep, Message: message, Err: err}
}

// NewFindingError creates a fuzz finding error.
func NewFindingError(message string, err error) *Error {
	return &Error{Class: ErrorClassFinding, Message: message, Err: err}
}

// NewInfraError creates an infrastructure error.
func NewInfraError(message string, err error) *Error {
	return &Error{Class: ErrorClassInfra, Message: message, Err: err}
}

// WithJob adds job context to an error.
func (e *Error) WithJob(jobID string) *Error {
	e.Job = jobID
	return e
}

// WithStep adds step context to an error.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfig returns true if the error is a configuration error.
func IsConfig(err error) bool {
	return hasClass(err, ErrorClassConfig)
}

// IsStepFailure returns true if the error is a step failure.
func IsStepFailure(err error) bool {
	return hasClass(err, ErrorClassStep)
}

// IsFinding returns true if the error is a fuzz finding.
func IsFinding(err error) bool {
	return hasClass(err, ErrorClassFinding)
}

// IsInfra returns true if the error is an infrastructure failure.
func IsInfra(err error) bool {
	return hasClass(err, ErrorClassInfra)
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Process exit codes. Zero means every job succeeded; test-class failures
// and infrastructure failures are distinguished for the operator.
const (
	// ExitOK means all jobs succeeded.
	ExitOK = 0

	// ExitFailure means at least one job failed on a step, lint, test, or
	// fuzz finding.
	ExitFailure = 1

	// ExitInfra means a job failed on configuration or infrastructure.
	ExitInfra = 2
)

// ExitCode maps an error to the engine's process exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if IsConfig(err) || IsInfra(err) {
		return ExitInfra
	}
	return ExitFailure
}

// Common error codes.
const (
	ErrCodeEmptyAxis        = "EMPTY_MATRIX_AXIS"
	ErrCodeStepExit         = "STEP_NONZERO_EXIT"
	ErrCodeToolchainInstall = "TOOLCHAIN_INSTALL_FAILED"
	ErrCodeFuzzCrash        = "FUZZ_CRASH"
	ErrCodeFuzzHang         = "FUZZ_HANG"
	ErrCodeCancelled        = "RUN_CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
