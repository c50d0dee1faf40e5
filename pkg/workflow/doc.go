// Package workflow defines the declarative workflow surface consumed by the
// Ember engine: triggers, global environment, jobs with matrix strategies,
// ordered steps, dependency cache settings, and fuzz campaign blocks.
//
// A workflow definition is loaded from YAML, validated once, and is immutable
// for the lifetime of a run. Trigger evaluation is a pure predicate over an
// incoming event and the definition's trigger set.
package workflow
