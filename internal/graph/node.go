package graph

import (
	"sort"
	"strings"
)

// Identity is the unique key of a package node.
type Identity struct {
	Name    string
	Version string
	Source  Source
}

// Key renders the identity as "name version (source)".
func (id Identity) Key() string {
	return id.Name + " " + id.Version + " (" + id.Source.Key() + ")"
}

func (id Identity) String() string { return id.Key() }

// Less reports whether id sorts before other in canonical order:
// name, version, source discriminant, source key.
func (id Identity) Less(other Identity) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.Version != other.Version {
		return id.Version < other.Version
	}
	if ra, rb := id.Source.Kind.Rank(), other.Source.Kind.Rank(); ra != rb {
		return ra < rb
	}
	return id.Source.Key() < other.Source.Key()
}

// DependencyKind is the role a dependency plays for its dependents.
type DependencyKind string

const (
	KindNormal DependencyKind = "normal"
	KindBuild  DependencyKind = "build"
	KindDev    DependencyKind = "dev"
)

func (k DependencyKind) rank() int {
	switch k {
	case KindNormal:
		return 0
	case KindBuild:
		return 1
	case KindDev:
		return 2
	default:
		return 3
	}
}

// ParseDependencyKind maps an ecosystem label onto a DependencyKind.
// Unknown and empty labels are treated as normal.
func ParseDependencyKind(s string) DependencyKind {
	switch s {
	case "build":
		return KindBuild
	case "dev":
		return KindDev
	default:
		return KindNormal
	}
}

// Annotations maps namespaced keys ("namespace.key") to values.
// Serialization always emits keys in sorted order.
type Annotations map[string]string

// AnnotationKey joins a namespace and key.
func AnnotationKey(namespace, key string) string { return namespace + "." + key }

// Get returns the value for namespace.key.
func (a Annotations) Get(namespace, key string) (string, bool) {
	v, ok := a[AnnotationKey(namespace, key)]
	return v, ok
}

// Keys returns the annotation keys in sorted order.
func (a Annotations) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy; nil stays nil.
func (a Annotations) Clone() Annotations {
	if a == nil {
		return nil
	}
	out := make(Annotations, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Node is one package in the graph.
type Node struct {
	Identity
	Kind           DependencyKind
	Classification Classification
	Annotations    Annotations
}

// DependencyKindAnnotation is the annotation key, in any namespace, that
// carries an advisory dependency role.
const DependencyKindAnnotation = "dependency_kind"

// Role is the dependency role used for classification and filtering. An
// advisory "<namespace>.dependency_kind" annotation refines a normal node;
// Kind itself, which is part of the graph digest, is left alone.
func (n Node) Role() DependencyKind {
	if n.Kind != KindNormal && n.Kind != "" {
		return n.Kind
	}
	for _, key := range n.Annotations.Keys() {
		if strings.HasSuffix(key, "."+DependencyKindAnnotation) {
			return ParseDependencyKind(n.Annotations[key])
		}
	}
	return KindNormal
}

func (n Node) clone() Node {
	out := n
	out.Annotations = n.Annotations.Clone()
	out.Classification = n.Classification.clone()
	return out
}

// Edge says From depends on To with the given kind.
type Edge struct {
	From Identity
	To   Identity
	Kind DependencyKind
}
