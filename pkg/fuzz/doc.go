// Package fuzz drives bounded fuzz campaigns against opaque target
// executables. A campaign moves through starting (toolchain pin and tool
// setup), running (workers fuzzing under a wall-clock budget and a per-input
// timeout), and one of three terminal states: stopped by budget (success),
// stopped by crash (a finding, with the reproducing input retained), or
// stopped by error (infrastructure failure, distinguished in diagnostics
// from a genuine finding).
//
// The budget and the per-input timeout are independent cancellation points:
// a hung input is flagged as a crash-class finding without the budget being
// involved, and budget expiry stops the whole campaign without a finding.
package fuzz
