package lockfile

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"lockwarden/internal/graph"
)

// Namespace is the annotation namespace used by the Cargo adapter.
const Namespace = "cargo"

// Annotation keys written from enrichment.
const (
	AnnFeatures        = "features"
	AnnCategories      = "categories"
	AnnKeywords        = "keywords"
	AnnEdition         = "edition"
	AnnRustVersion     = "rust_version"
	AnnProcMacro       = "proc_macro"
	AnnBuildScript     = "build_script"
	AnnWorkspaceMember = "workspace_member"
	AnnDependencyKind  = "dependency_kind"
	AnnTargetSpecific  = "target_specific"
	AnnManifestPath    = "manifest_path"
)

type cargoMetadata struct {
	Packages         []metaPackage `json:"packages"`
	WorkspaceMembers []string      `json:"workspace_members"`
	WorkspaceRoot    string        `json:"workspace_root"`
	Resolve          *struct {
		Nodes []metaResolveNode `json:"nodes"`
	} `json:"resolve"`
}

type metaPackage struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Source       *string             `json:"source"`
	ManifestPath string              `json:"manifest_path"`
	Features     map[string][]string `json:"features"`
	Categories   []string            `json:"categories"`
	Keywords     []string            `json:"keywords"`
	Edition      string              `json:"edition"`
	RustVersion  *string             `json:"rust_version"`
	Targets      []struct {
		Kind []string `json:"kind"`
	} `json:"targets"`
}

type metaResolveNode struct {
	ID       string   `json:"id"`
	Features []string `json:"features"`
	Deps     []struct {
		Pkg      string `json:"pkg"`
		DepKinds []struct {
			Kind   *string `json:"kind"`
			Target *string `json:"target"`
		} `json:"dep_kinds"`
	} `json:"deps"`
}

func parseCargoMetadata(b []byte) (*cargoMetadata, error) {
	var m cargoMetadata
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&m); err != nil {
		return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeEnrichmentParse, nil, "malformed cargo metadata").Wrap(err)
	}
	return &m, nil
}

func (p metaPackage) rawSource() string {
	if p.Source == nil {
		return ""
	}
	return *p.Source
}

// Diagnostic codes for advisory enrichment that disagrees with the lockfile.
const (
	DiagVersionMismatch = "ENRICHMENT_VERSION_MISMATCH"
	DiagSourceMismatch  = "ENRICHMENT_SOURCE_MISMATCH"
	DiagUnknownPackage  = "ENRICHMENT_UNKNOWN_PACKAGE"
	DiagUnknownEdge     = "ENRICHMENT_UNKNOWN_EDGE"
	DiagManifestPath    = "ENRICHMENT_MANIFEST_PATH_MISMATCH"
)

// Diagnostic is a non-fatal finding attached to a build result.
type Diagnostic struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// edgeKinds holds the kinds enrichment reports for one lockfile edge.
type edgeKinds struct {
	kinds          map[graph.DependencyKind]bool
	targetSpecific bool
}

// enrichment is the result of matching cargo metadata onto lockfile nodes.
type enrichment struct {
	annotations map[string]graph.Annotations // by node key
	edges       map[[2]string]*edgeKinds     // by (from key, to key)
	diagnostics []Diagnostic
}

// applyEnrichment matches metadata packages to lockfile entries by
// (name, version, raw source) and collects annotations. It never changes
// which nodes or edges exist.
func applyEnrichment(meta *cargoMetadata, entries []*entry) *enrichment {
	out := &enrichment{
		annotations: map[string]graph.Annotations{},
		edges:       map[[2]string]*edgeKinds{},
	}

	byExact := map[string]*entry{}
	byName := map[string][]*entry{}
	for _, e := range entries {
		byExact[e.pkg.Name+" "+e.pkg.Version+" "+e.pkg.Source] = e
		byName[e.pkg.Name] = append(byName[e.pkg.Name], e)
	}

	members := map[string]bool{}
	for _, id := range meta.WorkspaceMembers {
		members[id] = true
	}

	idToKey := map[string]string{}
	for _, p := range meta.Packages {
		e, ok := byExact[p.Name+" "+p.Version+" "+p.rawSource()]
		if !ok {
			out.diagnostics = append(out.diagnostics, mismatchDiagnostic(p, byName[p.Name]))
			continue
		}
		key := e.node.Key()
		idToKey[p.ID] = key
		ann := out.annotate(key)

		if len(p.Categories) > 0 {
			ann[graph.AnnotationKey(Namespace, AnnCategories)] = strings.Join(p.Categories, ",")
		}
		if len(p.Keywords) > 0 {
			ann[graph.AnnotationKey(Namespace, AnnKeywords)] = strings.Join(p.Keywords, ",")
		}
		if p.Edition != "" {
			ann[graph.AnnotationKey(Namespace, AnnEdition)] = p.Edition
		}
		if p.RustVersion != nil && *p.RustVersion != "" {
			ann[graph.AnnotationKey(Namespace, AnnRustVersion)] = *p.RustVersion
		}
		for _, t := range p.Targets {
			for _, k := range t.Kind {
				switch k {
				case "proc-macro":
					ann[graph.AnnotationKey(Namespace, AnnProcMacro)] = "true"
				case "custom-build":
					ann[graph.AnnotationKey(Namespace, AnnBuildScript)] = "true"
				}
			}
		}
		if members[p.ID] {
			ann[graph.AnnotationKey(Namespace, AnnWorkspaceMember)] = "true"
		}
		if e.node.Source.Kind == graph.SourceLocal && p.ManifestPath != "" && meta.WorkspaceRoot != "" {
			if rel, err := filepath.Rel(meta.WorkspaceRoot, filepath.Dir(p.ManifestPath)); err == nil {
				rel = cleanRel(rel)
				ann[graph.AnnotationKey(Namespace, AnnManifestPath)] = rel
				if rel != e.node.Source.Path {
					out.diagnostics = append(out.diagnostics, Diagnostic{
						Code:    DiagManifestPath,
						Message: "enrichment places local package at a different path; lockfile workspace wins",
						Context: map[string]string{"identity": key, "lockfile": e.node.Source.Path, "enrichment": rel},
					})
				}
			}
		}
	}

	if meta.Resolve == nil {
		return out
	}
	for _, rn := range meta.Resolve.Nodes {
		fromKey, ok := idToKey[rn.ID]
		if !ok {
			continue
		}
		if len(rn.Features) > 0 {
			feats := append([]string(nil), rn.Features...)
			sort.Strings(feats)
			out.annotate(fromKey)[graph.AnnotationKey(Namespace, AnnFeatures)] = strings.Join(feats, ",")
		}
		for _, d := range rn.Deps {
			toKey, ok := idToKey[d.Pkg]
			if !ok {
				continue
			}
			ek := out.edges[[2]string{fromKey, toKey}]
			if ek == nil {
				ek = &edgeKinds{kinds: map[graph.DependencyKind]bool{}}
				out.edges[[2]string{fromKey, toKey}] = ek
			}
			for _, dk := range d.DepKinds {
				kind := graph.KindNormal
				if dk.Kind != nil {
					kind = graph.ParseDependencyKind(*dk.Kind)
				}
				ek.kinds[kind] = true
				if dk.Target != nil && *dk.Target != "" {
					ek.targetSpecific = true
				}
			}
			if len(d.DepKinds) == 0 {
				ek.kinds[graph.KindNormal] = true
			}
		}
	}
	return out
}

func (en *enrichment) annotate(key string) graph.Annotations {
	a := en.annotations[key]
	if a == nil {
		a = graph.Annotations{}
		en.annotations[key] = a
	}
	return a
}

func mismatchDiagnostic(p metaPackage, candidates []*entry) Diagnostic {
	ctx := map[string]string{"name": p.Name, "enrichment_version": p.Version}
	if src := p.rawSource(); src != "" {
		ctx["enrichment_source"] = src
	}
	if len(candidates) == 0 {
		return Diagnostic{Code: DiagUnknownPackage, Message: "enrichment package is not in the lockfile", Context: ctx}
	}
	for _, c := range candidates {
		if c.pkg.Version == p.Version {
			ctx["lockfile_source"] = c.pkg.Source
			return Diagnostic{Code: DiagSourceMismatch, Message: "enrichment source differs from lockfile; lockfile wins", Context: ctx}
		}
	}
	versions := make([]string, 0, len(candidates))
	for _, c := range candidates {
		versions = append(versions, c.pkg.Version)
	}
	sort.Strings(versions)
	ctx["lockfile_versions"] = strings.Join(versions, ",")
	return Diagnostic{Code: DiagVersionMismatch, Message: "enrichment version differs from lockfile; lockfile wins", Context: ctx}
}
