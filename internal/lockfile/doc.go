// Package lockfile turns a Cargo.lock into a graph.Graph.
//
// The lockfile is the only authority for package identity. The optional
// `cargo metadata --format-version 1` document is advisory: it fills `cargo.*`
// annotations and refines dependency kinds, and any disagreement with the
// lockfile is reported as a Diagnostic rather than applied.
package lockfile
