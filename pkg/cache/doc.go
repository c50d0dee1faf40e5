// Package cache implements the content-addressed dependency cache: a
// key/value store mapping a deterministic cache key to a restorable blob of
// compiled dependency artifacts.
//
// Keys are derived from a fingerprint of the job's lockfiles plus its matrix
// identity, so distinct toolchain channels never share an entry. A restore
// miss is a cold start, not an error. Saves are idempotent per key and
// atomic (temp file plus rename), so a race between two jobs computing the
// same key resolves last-writer-wins: staleness only costs a future rebuild.
// Entries are never mutated in place; a new key supersedes an old one, and
// superseded entries are reclaimed by Prune.
package cache
