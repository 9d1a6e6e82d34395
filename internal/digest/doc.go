// Package digest computes the content hashes shared by the graph, vendor and
// epoch layers.
//
// All digests are lowercase sha256 hex. Composite digests are built from
// length-prefixed fields so that no concatenation of fields can collide with
// another.
package digest
