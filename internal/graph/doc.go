// Package graph defines the language-agnostic dependency graph shared by every
// lockwarden component.
//
// A Graph is an immutable value built from a set of nodes and edges:
//   - Node identity is (name, version, source); equal identities are one node.
//   - Nodes and edges are held in canonical order, independent of the order
//     the caller supplied them in.
//   - The graph Digest covers identities, dependency kinds and edges only.
//     Annotations and classifications never change it.
//
// Ecosystem-specific data lives in namespaced Annotations so that adding an
// ecosystem never changes the graph schema.
package graph
