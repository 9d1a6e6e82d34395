package lockfile

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lockwarden/internal/digest"
	"lockwarden/internal/graph"
)

// Ecosystem is the name recorded on graphs built by this package.
const Ecosystem = "cargo"

// Options configures a build.
type Options struct {
	// ProjectID names the project. Defaults to the base name of Root.
	ProjectID string

	// Root is the workspace directory that holds Cargo.lock. Local packages
	// are located and checked for existence relative to it.
	Root string

	// LocalPaths pins local package names to directories relative to Root,
	// bypassing workspace discovery.
	LocalPaths map[string]string
}

// Result is a built graph plus everything learned along the way.
type Result struct {
	Graph          *graph.Graph
	Diagnostics    []Diagnostic
	LockfileDigest string
}

type entry struct {
	pkg  cargoPackage
	node graph.Node
}

// Build parses a Cargo.lock, optionally merges cargo metadata, and returns
// the canonical graph.
//
// The build is atomic: parse and identity errors (ErrParseFailure,
// ErrChecksumConflict, ErrDanglingEdge) and missing local packages
// (ErrMissingLocalDependency) return no graph at all.
//
// Enrichment only adds annotations. Nodes, edges, kinds and the graph digest
// are the same with or without it.
func Build(lockfile, enrich []byte, opts Options) (*Result, error) {
	lock, err := parseCargoLock(lockfile)
	if err != nil {
		return nil, err
	}
	root := opts.Root
	if root == "" {
		root = "."
	}

	b := &builder{root: root, opts: opts}
	entries, err := b.entries(lock)
	if err != nil {
		return nil, err
	}

	var en *enrichment
	if len(bytes.TrimSpace(enrich)) > 0 {
		meta, err := parseCargoMetadata(enrich)
		if err != nil {
			return nil, err
		}
		en = applyEnrichment(meta, entries)
	}

	edges, diags, err := resolveEdges(entries, en)
	if err != nil {
		return nil, err
	}

	nodes := make([]graph.Node, 0, len(entries))
	roles := incomingKinds(edges, en)
	for _, e := range entries {
		n := e.node
		if en != nil {
			ann := en.annotations[n.Key()].Clone()
			if ann == nil {
				ann = graph.Annotations{}
			}
			if in, ok := roles[n.Key()]; ok {
				ann[graph.AnnotationKey(Namespace, AnnDependencyKind)] = string(in.kind())
				if in.targetSpecific {
					ann[graph.AnnotationKey(Namespace, AnnTargetSpecific)] = "true"
				}
			}
			if len(ann) > 0 {
				n.Annotations = ann
			}
		}
		nodes = append(nodes, n)
	}

	projectID := opts.ProjectID
	if projectID == "" {
		if abs, err := filepath.Abs(root); err == nil {
			projectID = filepath.Base(abs)
		}
	}
	g, err := graph.New(projectID, Ecosystem, nodes, edges)
	if err != nil {
		return nil, err
	}

	if en != nil {
		diags = append(diags, en.diagnostics...)
	}
	sortDiagnostics(diags)
	return &Result{Graph: g, Diagnostics: diags, LockfileDigest: digest.Bytes(lockfile)}, nil
}

type builder struct {
	root  string
	opts  Options
	local map[string]string
}

func (b *builder) entries(lock *cargoLock) ([]*entry, error) {
	byKey := map[string]*entry{}
	var order []*entry
	for _, p := range lock.Packages {
		checksum := p.Checksum
		if checksum == "" {
			checksum = lock.legacyChecksum(p)
		}
		src, err := parseSource(p.Source, checksum)
		if err != nil {
			return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
				map[string]string{"name": p.Name, "version": p.Version, "source": p.Source}, "%v", err)
		}
		if src.Kind == graph.SourceLocal {
			path, err := b.localPath(p.Name)
			if err != nil {
				return nil, err
			}
			src.Path = path
		}
		n := graph.Node{
			Identity: graph.Identity{Name: p.Name, Version: p.Version, Source: src},
			Kind:     graph.KindNormal,
		}
		key := n.Key()
		if prev, ok := byKey[key]; ok {
			if prev.node.Source.Checksum != src.Checksum {
				return nil, graph.Errorf(graph.ErrChecksumConflict, graph.CodeChecksumConflict, map[string]string{
					"identity": key,
					"expected": prev.node.Source.Checksum,
					"actual":   src.Checksum,
				}, "duplicate lockfile entry with conflicting checksum")
			}
			prev.pkg.Dependencies = append(prev.pkg.Dependencies, p.Dependencies...)
			continue
		}
		e := &entry{pkg: p, node: n}
		byKey[key] = e
		order = append(order, e)
	}
	return order, nil
}

// localPath locates a local package and checks that its directory exists.
func (b *builder) localPath(name string) (string, error) {
	rel, ok := b.opts.LocalPaths[name]
	if !ok {
		if b.local == nil {
			found, err := discoverLocalPackages(b.root)
			if err != nil {
				return "", err
			}
			b.local = found
		}
		rel, ok = b.local[name]
	}
	if !ok {
		return "", graph.Errorf(graph.ErrMissingLocalDependency, graph.CodeMissingLocalDependency,
			map[string]string{"name": name, "root": filepath.ToSlash(b.root)},
			"local package is not present in the workspace")
	}
	rel = cleanRel(rel)
	full := filepath.Join(b.root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", filesystemError(err, full)
		}
		return "", graph.Errorf(graph.ErrMissingLocalDependency, graph.CodeMissingLocalDependency,
			map[string]string{"name": name, "path": rel}, "local package directory does not exist").Wrap(err)
	}
	if !info.IsDir() {
		return "", graph.Errorf(graph.ErrMissingLocalDependency, graph.CodeMissingLocalDependency,
			map[string]string{"name": name, "path": rel}, "local package path is not a directory")
	}
	return rel, nil
}

func resolveEdges(entries []*entry, en *enrichment) ([]graph.Edge, []Diagnostic, error) {
	byExact := map[string]*entry{}
	byNameVersion := map[string][]*entry{}
	byName := map[string][]*entry{}
	for _, e := range entries {
		byExact[e.pkg.Name+" "+e.pkg.Version+" "+e.pkg.Source] = e
		byNameVersion[e.pkg.Name+" "+e.pkg.Version] = append(byNameVersion[e.pkg.Name+" "+e.pkg.Version], e)
		byName[e.pkg.Name] = append(byName[e.pkg.Name], e)
	}

	var edges []graph.Edge
	lockEdges := map[[2]string]bool{}
	for _, e := range entries {
		for _, raw := range e.pkg.Dependencies {
			ref, err := parseDepRef(raw)
			if err != nil {
				return nil, nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
					map[string]string{"from": e.node.Key(), "dependency": raw}, "%v", err)
			}
			var candidates []*entry
			switch {
			case ref.source != "":
				if t, ok := byExact[ref.name+" "+ref.version+" "+ref.source]; ok {
					candidates = []*entry{t}
				}
			case ref.version != "":
				candidates = byNameVersion[ref.name+" "+ref.version]
			default:
				candidates = byName[ref.name]
			}
			if len(candidates) != 1 {
				reason := "dependency does not resolve to a lockfile entry"
				if len(candidates) > 1 {
					reason = "dependency reference is ambiguous"
				}
				return nil, nil, graph.Errorf(graph.ErrDanglingEdge, graph.CodeDanglingEdge,
					map[string]string{"from": e.node.Key(), "dependency": raw}, "%s", reason)
			}
			to := candidates[0]
			pair := [2]string{e.node.Key(), to.node.Key()}
			if lockEdges[pair] {
				continue
			}
			lockEdges[pair] = true
			edges = append(edges, graph.Edge{From: e.node.Identity, To: to.node.Identity, Kind: graph.KindNormal})
		}
	}

	var diags []Diagnostic
	if en != nil {
		for pair := range en.edges {
			if !lockEdges[pair] {
				diags = append(diags, Diagnostic{
					Code:    DiagUnknownEdge,
					Message: "enrichment reports a dependency the lockfile does not record",
					Context: map[string]string{"from": pair[0], "to": pair[1]},
				})
			}
		}
	}
	return edges, diags, nil
}

type incoming struct {
	kinds          map[graph.DependencyKind]bool
	targetSpecific bool
}

// kind collapses the roles a package is used in: any normal use makes it
// normal, otherwise build wins over dev.
func (in incoming) kind() graph.DependencyKind {
	switch {
	case in.kinds[graph.KindNormal]:
		return graph.KindNormal
	case in.kinds[graph.KindBuild]:
		return graph.KindBuild
	case in.kinds[graph.KindDev]:
		return graph.KindDev
	default:
		return graph.KindNormal
	}
}

// incomingKinds collects, per dependency, the roles enrichment reports on
// the lockfile edges that reach it. Edges enrichment does not describe count
// as normal use.
func incomingKinds(edges []graph.Edge, en *enrichment) map[string]incoming {
	out := map[string]incoming{}
	if en == nil {
		return out
	}
	for _, e := range edges {
		key := e.To.Key()
		in, ok := out[key]
		if !ok {
			in = incoming{kinds: map[graph.DependencyKind]bool{}}
		}
		ek, ok := en.edges[[2]string{e.From.Key(), key}]
		switch {
		case !ok || len(ek.kinds) == 0:
			in.kinds[graph.KindNormal] = true
		default:
			for k := range ek.kinds {
				in.kinds[k] = true
			}
			in.targetSpecific = in.targetSpecific || ek.targetSpecific
		}
		out[key] = in
	}
	return out
}

func sortDiagnostics(diags []Diagnostic) {
	sortKey := func(d Diagnostic) string {
		keys := make([]string, 0, len(d.Context))
		for k := range d.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(d.Code)
		for _, k := range keys {
			b.WriteString("\x00" + k + "=" + d.Context[k])
		}
		return b.String()
	}
	sort.SliceStable(diags, func(i, j int) bool { return sortKey(diags[i]) < sortKey(diags[j]) })
}
