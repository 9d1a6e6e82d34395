// Package drift compares two dependency graph snapshots.
//
// Packages are matched across snapshots by name and source kind, so a version
// bump is one VersionChanged record and a registry to git swap is one
// SourceChanged record. The comparator does no I/O and keeps no state.
package drift
