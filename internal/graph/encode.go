package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type sourceJSON struct {
	Kind     SourceKind `json:"kind"`
	URL      string     `json:"url,omitempty"`
	Checksum string     `json:"checksum,omitempty"`
	Commit   string     `json:"commit,omitempty"`
	Ref      string     `json:"ref,omitempty"`
	Path     string     `json:"path,omitempty"`
}

type signalJSON struct {
	Kind  SignalKind `json:"kind"`
	Value string     `json:"value"`
}

type classificationJSON struct {
	Class    string       `json:"class"`
	Category Category     `json:"category,omitempty"`
	Signals  []signalJSON `json:"signals"`
}

type nodeJSON struct {
	Name           string             `json:"name"`
	Version        string             `json:"version"`
	Source         sourceJSON         `json:"source"`
	Kind           DependencyKind     `json:"kind"`
	Classification classificationJSON `json:"classification"`
	Annotations    map[string]string  `json:"annotations"`
}

type edgeJSON struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Kind DependencyKind `json:"kind"`
}

type graphJSON struct {
	SchemaVersion string     `json:"schema_version"`
	ProjectID     string     `json:"project_id"`
	Ecosystem     string     `json:"ecosystem"`
	Digest        Digest     `json:"digest"`
	Nodes         []nodeJSON `json:"nodes"`
	Edges         []edgeJSON `json:"edges"`
}

const (
	classTcs        = "tcs"
	classMechanical = "mechanical"
)

// CanonicalJSON returns the stable serialized form of the graph.
//
// Field order is fixed by the wire structs, annotation keys are sorted by
// encoding/json, and nodes and edges are already canonical, so two graphs
// built from semantically identical input encode to identical bytes.
func (g *Graph) CanonicalJSON() ([]byte, error) {
	return json.Marshal(g.wire())
}

// MarshalJSON implements json.Marshaler using the canonical form.
func (g *Graph) MarshalJSON() ([]byte, error) { return g.CanonicalJSON() }

func (g *Graph) wire() graphJSON {
	out := graphJSON{
		SchemaVersion: SchemaVersion,
		ProjectID:     g.projectID,
		Ecosystem:     g.ecosystem,
		Digest:        g.digest,
		Nodes:         make([]nodeJSON, 0, len(g.nodes)),
		Edges:         make([]edgeJSON, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		cj := classificationJSON{Class: classMechanical, Signals: []signalJSON{}}
		if n.Classification.Tcs {
			cj.Class = classTcs
			cj.Category = n.Classification.Category
		}
		for _, s := range n.Classification.Signals {
			cj.Signals = append(cj.Signals, signalJSON{Kind: s.Kind, Value: s.Value})
		}
		ann := map[string]string(n.Annotations)
		if ann == nil {
			ann = map[string]string{}
		}
		out.Nodes = append(out.Nodes, nodeJSON{
			Name:    n.Name,
			Version: n.Version,
			Source: sourceJSON{
				Kind:     n.Source.Kind,
				URL:      n.Source.URL,
				Checksum: n.Source.Checksum,
				Commit:   n.Source.Commit,
				Ref:      n.Source.Ref,
				Path:     n.Source.Path,
			},
			Kind:           n.Kind,
			Classification: cj,
			Annotations:    ann,
		})
	}
	for _, e := range g.edges {
		out.Edges = append(out.Edges, edgeJSON{
			From: g.nodes[e.from].Key(),
			To:   g.nodes[e.to].Key(),
			Kind: e.kind,
		})
	}
	return out
}

// Decode parses a canonical graph document and rebuilds the Graph.
//
// Unknown fields and trailing data are rejected. The recomputed digest must
// equal the recorded one.
func Decode(data []byte) (*Graph, error) {
	var gj graphJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&gj); err != nil {
		return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, nil, "decode graph").Wrap(err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, nil, "decode graph: trailing data")
	}
	if gj.SchemaVersion != SchemaVersion {
		return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph,
			map[string]string{"expected": SchemaVersion, "actual": gj.SchemaVersion}, "unsupported schema version")
	}

	nodes := make([]Node, 0, len(gj.Nodes))
	byKey := make(map[string]Identity, len(gj.Nodes))
	for i, nj := range gj.Nodes {
		c := Classification{Category: nj.Classification.Category}
		switch nj.Classification.Class {
		case classTcs:
			c.Tcs = true
		case classMechanical:
		default:
			return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph, nil,
				"nodes[%d]: unknown classification %q", i, nj.Classification.Class)
		}
		for _, s := range nj.Classification.Signals {
			c.Signals = append(c.Signals, Signal{Kind: s.Kind, Value: s.Value})
		}
		var ann Annotations
		if len(nj.Annotations) > 0 {
			ann = Annotations(nj.Annotations)
		}
		n := Node{
			Identity: Identity{
				Name:    nj.Name,
				Version: nj.Version,
				Source: Source{
					Kind:     nj.Source.Kind,
					URL:      nj.Source.URL,
					Checksum: nj.Source.Checksum,
					Commit:   nj.Source.Commit,
					Ref:      nj.Source.Ref,
					Path:     nj.Source.Path,
				},
			},
			Kind:           nj.Kind,
			Classification: c,
			Annotations:    ann,
		}
		nodes = append(nodes, n)
		byKey[n.Key()] = n.Identity
	}

	edges := make([]Edge, 0, len(gj.Edges))
	for _, ej := range gj.Edges {
		from, okFrom := byKey[ej.From]
		to, okTo := byKey[ej.To]
		if !okFrom || !okTo {
			return nil, Errorf(ErrDanglingEdge, CodeDanglingEdge,
				map[string]string{"from": ej.From, "to": ej.To}, "edge references an identity not present in the graph")
		}
		edges = append(edges, Edge{From: from, To: to, Kind: ej.Kind})
	}

	g, err := New(gj.ProjectID, gj.Ecosystem, nodes, edges)
	if err != nil {
		return nil, err
	}
	if g.digest != gj.Digest {
		return nil, Errorf(ErrInvalidGraph, CodeInvalidGraph,
			map[string]string{"expected": string(gj.Digest), "actual": string(g.digest)}, "graph digest mismatch")
	}
	return g, nil
}

// String renders a short summary, mostly for logs.
func (g *Graph) String() string {
	return fmt.Sprintf("graph(project=%s ecosystem=%s nodes=%d edges=%d digest=%s)",
		g.projectID, g.ecosystem, len(g.nodes), len(g.edges), g.digest)
}
