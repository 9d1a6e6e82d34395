package classify

import (
	"strings"

	"lockwarden/internal/graph"
)

// Build roles reported in BuildRoleUsage signals.
const (
	RoleProcMacro       = "proc-macro"
	RoleBuildScript     = "build-script"
	RoleBuildDependency = "build-dependency"
)

// Classifier applies a validated configuration. It holds no mutable state
// and is safe for concurrent use.
type Classifier struct {
	overrides map[string]graph.Category
	rules     []rule
}

// NewClassifier validates cfg eagerly. Any invalid override or pattern fails
// the whole configuration with graph.ErrConfigInvalid; nothing is skipped.
func NewClassifier(cfg Config) (*Classifier, error) {
	overrides, rules, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	return &Classifier{overrides: overrides, rules: rules}, nil
}

// Classify returns the classification for a single node.
func (c *Classifier) Classify(n graph.Node) graph.Classification {
	if cat, ok := c.overrides[n.Name]; ok {
		return graph.TcsClassification(cat, graph.Signal{Kind: graph.SignalExplicitOverride, Value: n.Name})
	}
	if role := buildRole(n); role != "" {
		return graph.TcsClassification(graph.BuildTimeExecution, graph.Signal{Kind: graph.SignalBuildRoleUsage, Value: role})
	}
	for _, r := range c.rules {
		ok, field := r.m.match(n)
		if !ok {
			continue
		}
		signals := []graph.Signal{{Kind: graph.SignalNamePattern, Value: r.label}}
		if field != "" {
			signals = append(signals, graph.Signal{Kind: graph.SignalMetadataTag, Value: field})
		}
		return graph.TcsClassification(r.category, signals...)
	}
	return graph.Mechanical()
}

// ClassifyGraph returns a copy of g with every node classified.
func (c *Classifier) ClassifyGraph(g *graph.Graph) (*graph.Graph, error) {
	byKey := make(map[string]graph.Classification, g.Len())
	for _, n := range g.Nodes() {
		byKey[n.Key()] = c.Classify(n)
	}
	return g.WithClassifications(byKey)
}

// Classify validates the given overrides and patterns and classifies one node.
func Classify(n graph.Node, overrides map[string]graph.Category, patterns []PatternConfig) (graph.Classification, error) {
	raw := make(map[string]string, len(overrides))
	for k, v := range overrides {
		raw[k] = string(v)
	}
	c, err := NewClassifier(Config{Overrides: raw, Patterns: patterns})
	if err != nil {
		return graph.Classification{}, err
	}
	return c.Classify(n), nil
}

// buildRole reports whether the package runs code at build time. Proc macro
// and build script markers are read from any annotation namespace.
func buildRole(n graph.Node) string {
	var procMacro, buildScript bool
	for _, key := range n.Annotations.Keys() {
		if n.Annotations[key] != "true" {
			continue
		}
		switch {
		case strings.HasSuffix(key, ".proc_macro"):
			procMacro = true
		case strings.HasSuffix(key, ".build_script"):
			buildScript = true
		}
	}
	switch {
	case procMacro:
		return RoleProcMacro
	case buildScript:
		return RoleBuildScript
	case n.Role() == graph.KindBuild:
		return RoleBuildDependency
	default:
		return ""
	}
}
