// Package vendoring materializes and verifies an offline copy of every
// dependency in a graph.
//
// Each non-local package lives in its own directory under the vendor root.
// Verification recomputes a tree digest per package and compares it with the
// checksum recorded in the lockfile; git packages must also carry the pinned
// commit. The resulting Manifest is all-or-nothing: EpochValid is false as
// soon as a single entry fails.
package vendoring
