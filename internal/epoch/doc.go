// Package epoch records immutable snapshots of a project's dependency state.
//
// An Epoch carries the canonical graph JSON together with the lockfile,
// vendor and configuration digests it was derived from. Stores are
// append-only: an epoch is never rewritten, and a newer epoch supersedes an
// older one by referencing it.
package epoch
