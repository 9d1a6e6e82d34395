package drift

import (
	"sort"

	"lockwarden/internal/graph"
)

// Options filters and adjusts a comparison.
type Options struct {
	IncludeDev   bool
	IncludeBuild bool

	// PriorityOverrides forces the priority of records by package name.
	// SourceChanged records stay High.
	PriorityOverrides map[string]Priority
}

func (o Options) includes(k graph.DependencyKind) bool {
	switch k {
	case graph.KindDev:
		return o.IncludeDev
	case graph.KindBuild:
		return o.IncludeBuild
	default:
		return true
	}
}

// Compare reports every change from prev to cur, including dev and build
// dependencies. Either graph may be nil, which reads as empty.
func Compare(prev, cur *graph.Graph) []Record {
	return CompareWith(prev, cur, Options{IncludeDev: true, IncludeBuild: true})
}

// CompareWith is Compare with filtering and priority overrides.
//
// Records are ordered by name, then kind (Added, Removed, VersionChanged,
// SourceChanged), then source kind.
func CompareWith(prev, cur *graph.Graph, opts Options) []Record {
	before := index(prev, opts)
	after := index(cur, opts)

	names := make([]string, 0, len(before)+len(after))
	for name := range before {
		names = append(names, name)
	}
	for name := range after {
		if _, ok := before[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []Record
	for _, name := range names {
		out = append(out, diffName(before[name], after[name])...)
	}
	for i := range out {
		out[i].Priority = priority(out[i], opts)
	}
	sortRecords(out)
	return out
}

// byKind groups the nodes of one name by source kind. Each list keeps the
// graph's canonical order.
type byKind map[graph.SourceKind][]graph.Node

func index(g *graph.Graph, opts Options) map[string]byKind {
	out := map[string]byKind{}
	if g == nil {
		return out
	}
	for _, n := range g.Nodes() {
		if !opts.includes(n.Role()) {
			continue
		}
		group := out[n.Name]
		if group == nil {
			group = byKind{}
			out[n.Name] = group
		}
		group[n.Source.Kind] = append(group[n.Source.Kind], n)
	}
	return out
}

func kinds(a, b byKind) []graph.SourceKind {
	seen := map[graph.SourceKind]bool{}
	var out []graph.SourceKind
	for _, m := range []byKind{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

func diffName(prev, cur byKind) []Record {
	var out []Record
	var gone, arrived []graph.Node
	for _, kind := range kinds(prev, cur) {
		p, c := prev[kind], cur[kind]
		switch {
		case len(p) > 0 && len(c) > 0:
			out = append(out, diffKind(p, c)...)
		case len(p) > 0:
			gone = append(gone, p...)
		default:
			arrived = append(arrived, c...)
		}
	}

	// A source kind that vanished while another appeared is a source swap,
	// whether or not the version moved with it.
	n := min(len(gone), len(arrived))
	for i := 0; i < n; i++ {
		out = append(out, record(SourceChanged, &gone[i], &arrived[i]))
	}
	return append(out, unpaired(gone[n:], arrived[n:])...)
}

// diffKind compares the nodes of one name under one source kind.
func diffKind(prev, cur []graph.Node) []Record {
	var out []Record
	curByKey := make(map[string]int, len(cur))
	for i, n := range cur {
		curByKey[n.Key()] = i
	}
	matched := make([]bool, len(cur))
	var gone []graph.Node
	for i := range prev {
		j, ok := curByKey[prev[i].Key()]
		if !ok {
			gone = append(gone, prev[i])
			continue
		}
		matched[j] = true
		// Same identity with different content under a registry source.
		if prev[i].Source.Checksum != cur[j].Source.Checksum {
			out = append(out, record(SourceChanged, &prev[i], &cur[j]))
		}
	}
	var arrived []graph.Node
	for j := range cur {
		if !matched[j] {
			arrived = append(arrived, cur[j])
		}
	}

	n := min(len(gone), len(arrived))
	for i := 0; i < n; i++ {
		b, a := &gone[i], &arrived[i]
		kind := VersionChanged
		if b.Version == a.Version && b.Source.URL != a.Source.URL {
			kind = SourceChanged
		}
		out = append(out, record(kind, b, a))
	}
	return append(out, unpaired(gone[n:], arrived[n:])...)
}

func unpaired(gone, arrived []graph.Node) []Record {
	var out []Record
	for i := range gone {
		out = append(out, record(Removed, &gone[i], nil))
	}
	for i := range arrived {
		out = append(out, record(Added, nil, &arrived[i]))
	}
	return out
}

func record(kind Kind, before, after *graph.Node) Record {
	r := Record{Kind: kind, Before: before, After: after}
	switch {
	case after != nil:
		r.Key = Key{Name: after.Name, SourceKind: after.Source.Kind}
	case before != nil:
		r.Key = Key{Name: before.Name, SourceKind: before.Source.Kind}
	}
	return r
}

func priority(r Record, opts Options) Priority {
	if r.Kind == SourceChanged {
		return High
	}
	if p, ok := opts.PriorityOverrides[r.Key.Name]; ok {
		return p
	}
	if tcs(r.Before) || tcs(r.After) {
		return High
	}
	return Low
}

func sortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Key.Name != b.Key.Name {
			return a.Key.Name < b.Key.Name
		}
		if a.Kind != b.Kind {
			return a.Kind.rank() < b.Kind.rank()
		}
		if ra, rb := a.Key.SourceKind.Rank(), b.Key.SourceKind.Rank(); ra != rb {
			return ra < rb
		}
		return endpointKey(a) < endpointKey(b)
	})
}

func endpointKey(r Record) string {
	var s string
	if r.Before != nil {
		s = r.Before.Key()
	}
	s += "|"
	if r.After != nil {
		s += r.After.Key()
	}
	return s
}
