package graph

import (
	"sort"

	"lockwarden/internal/digest"
)

// SchemaVersion is the version of the serialized graph contract.
const SchemaVersion = "1.0.0"

// Digest is the deterministic content identity of a Graph.
type Digest string

func (d Digest) String() string { return string(d) }

type edgeIndex struct {
	from int
	to   int
	kind DependencyKind
}

// Graph is an immutable, validated dependency graph.
//
// It is safe for concurrent read access.
type Graph struct {
	projectID string
	ecosystem string

	nodes []Node // canonical order
	index map[string]int

	edges []edgeIndex // sorted

	digest Digest
}

// New validates nodes and edges and returns them as a canonical Graph.
//
// Nodes with equal identity are merged; they must agree on checksum
// (ErrChecksumConflict otherwise). Edges must reference nodes in the same
// graph (ErrDanglingEdge otherwise). Duplicate edges are collapsed.
func New(projectID, ecosystem string, nodes []Node, edges []Edge) (*Graph, error) {
	byKey := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n.Name == "" || n.Version == "" {
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"name": n.Name, "version": n.Version},
				"package name and version are required")
		}
		if err := n.Source.validate(); err != nil {
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"identity": n.Key()}, "%v", err)
		}
		if n.Kind == "" {
			n.Kind = KindNormal
		}
		if err := n.Classification.Validate(); err != nil {
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"identity": n.Key()}, "%v", err)
		}
		key := n.Key()
		prev, exists := byKey[key]
		if !exists {
			byKey[key] = n.clone()
			continue
		}
		merged, err := mergeNodes(prev, n)
		if err != nil {
			return nil, err
		}
		byKey[key] = merged
	}

	sorted := make([]Node, 0, len(byKey))
	for _, n := range byKey {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity.Less(sorted[j].Identity) })

	index := make(map[string]int, len(sorted))
	for i, n := range sorted {
		index[n.Key()] = i
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := index[e.From.Key()]
		to, okTo := index[e.To.Key()]
		if !okFrom || !okTo {
			missing := e.To.Key()
			if !okFrom {
				missing = e.From.Key()
			}
			return nil, Errorf(ErrDanglingEdge, CodeDanglingEdge,
				map[string]string{"from": e.From.Key(), "to": e.To.Key(), "missing": missing},
				"edge references an identity not present in the graph")
		}
		kind := e.Kind
		if kind == "" {
			kind = KindNormal
		}
		pair := edgeIndex{from: from, to: to, kind: kind}
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}
	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		if a.to != b.to {
			return a.to < b.to
		}
		return a.kind.rank() < b.kind.rank()
	})

	g := &Graph{
		projectID: projectID,
		ecosystem: ecosystem,
		nodes:     sorted,
		index:     index,
		edges:     mapped,
	}
	g.digest = g.computeDigest()
	return g, nil
}

// mergeNodes folds a duplicate occurrence of the same identity into prev.
// The result does not depend on which occurrence came first.
func mergeNodes(prev, n Node) (Node, error) {
	if prev.Source.Checksum != n.Source.Checksum {
		return Node{}, Errorf(ErrChecksumConflict, CodeChecksumConflict, map[string]string{
			"identity": n.Key(),
			"expected": prev.Source.Checksum,
			"actual":   n.Source.Checksum,
		}, "duplicate identity with conflicting checksum")
	}
	if !prev.Classification.Equal(n.Classification) {
		return Node{}, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"identity": n.Key()},
			"duplicate identity with conflicting classification")
	}
	out := prev
	if n.Kind.rank() < out.Kind.rank() {
		out.Kind = n.Kind
	}
	if n.Source.Ref != "" && (out.Source.Ref == "" || n.Source.Ref < out.Source.Ref) {
		out.Source.Ref = n.Source.Ref
	}
	for k, v := range n.Annotations {
		if out.Annotations == nil {
			out.Annotations = Annotations{}
		}
		if cur, ok := out.Annotations[k]; !ok || v < cur {
			out.Annotations[k] = v
		}
	}
	return out, nil
}

func (g *Graph) computeDigest() Digest {
	w := digest.NewWriter()
	w.String("lockwarden-graph/" + SchemaVersion)
	w.String(g.ecosystem)

	w.Count(len(g.nodes))
	for _, n := range g.nodes {
		w.String(n.Name)
		w.String(n.Version)
		w.String(string(n.Source.Kind))
		w.String(n.Source.Key())
		w.String(n.Source.Checksum)
		w.String(string(n.Kind))
	}

	w.Count(len(g.edges))
	for _, e := range g.edges {
		w.String(g.nodes[e.from].Key())
		w.String(g.nodes[e.to].Key())
		w.String(string(e.kind))
	}
	return Digest(w.Sum())
}

// ProjectID returns the project identifier the graph was built for.
func (g *Graph) ProjectID() string { return g.projectID }

// Ecosystem returns the ecosystem adapter name, e.g. "cargo".
func (g *Graph) Ecosystem() string { return g.ecosystem }

// Digest returns the graph's content identity.
func (g *Graph) Digest() Digest { return g.digest }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns copies of the nodes in canonical order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Node returns the node with the given identity key.
func (g *Graph) Node(key string) (Node, bool) {
	i, ok := g.index[key]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i].clone(), true
}

// Edges returns the edges in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Identity, To: g.nodes[e.to].Identity, Kind: e.kind})
	}
	return out
}

// Dependencies returns the identities key depends on, in canonical order.
func (g *Graph) Dependencies(key string) []Identity {
	i, ok := g.index[key]
	if !ok {
		return nil
	}
	var out []Identity
	last := -1
	for _, e := range g.edges {
		if e.from == i && e.to != last {
			out = append(out, g.nodes[e.to].Identity)
			last = e.to
		}
	}
	return out
}

// Dependents returns the identities that depend on key, in canonical order.
func (g *Graph) Dependents(key string) []Identity {
	i, ok := g.index[key]
	if !ok {
		return nil
	}
	var idx []int
	seen := map[int]bool{}
	for _, e := range g.edges {
		if e.to == i && !seen[e.from] {
			seen[e.from] = true
			idx = append(idx, e.from)
		}
	}
	sort.Ints(idx)
	out := make([]Identity, len(idx))
	for j, n := range idx {
		out[j] = g.nodes[n].Identity
	}
	return out
}

// WithClassifications returns a copy of g whose nodes carry the given
// classifications, keyed by identity key. Nodes without an entry keep their
// current classification. The digest is unchanged.
func (g *Graph) WithClassifications(byKey map[string]Classification) (*Graph, error) {
	out := &Graph{
		projectID: g.projectID,
		ecosystem: g.ecosystem,
		nodes:     g.Nodes(),
		index:     g.index,
		edges:     g.edges,
		digest:    g.digest,
	}
	for key, c := range byKey {
		i, ok := g.index[key]
		if !ok {
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"identity": key},
				"classification for unknown identity")
		}
		if err := c.Validate(); err != nil {
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, map[string]string{"identity": key}, "%v", err)
		}
		out.nodes[i].Classification = c.clone()
	}
	return out, nil
}
