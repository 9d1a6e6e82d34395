package vendoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"lockwarden/internal/digest"
	"lockwarden/internal/graph"
)

// Files written next to each vendored package tree. Neither contributes to
// the tree digest.
const (
	MetadataFile      = ".lockwarden-vendor.json"
	CargoChecksumFile = ".cargo-checksum.json"
)

// PackageMetadata is the per-package record written at materialization.
type PackageMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Commit  string `json:"commit,omitempty"`
}

func excludeMetadata(rel string) bool {
	return rel == MetadataFile || rel == CargoChecksumFile
}

// treeDigest is the per-package content digest compared with lockfile
// checksums.
func treeDigest(dir string) (string, error) {
	return digest.Tree(dir, digest.TreeOptions{Exclude: excludeMetadata})
}

// vendorable returns the nodes that belong in a vendor directory, in
// canonical order. Local packages are part of the workspace and are not
// vendored.
func vendorable(g *graph.Graph) []graph.Node {
	var out []graph.Node
	for _, n := range g.Nodes() {
		if n.Source.Kind != graph.SourceLocal {
			out = append(out, n)
		}
	}
	return out
}

// layout assigns each node a directory name. Packages are stored as
// "<name>-<version>"; when two sources share a name and version the source
// key hash is appended to both. A name that would not be a single directory
// entry directly under the vendor root fails the whole layout.
func layout(nodes []graph.Node) (map[string]string, error) {
	count := map[string]int{}
	for _, n := range nodes {
		count[n.Name+"-"+n.Version]++
	}
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		base := n.Name + "-" + n.Version
		if !safeEntryName(base) {
			return nil, graph.Errorf(graph.ErrInvalidGraph, graph.CodeInvalidGraph,
				map[string]string{"identity": n.Key(), "dir": base}, "package name or version is not a safe directory name")
		}
		if count[base] > 1 {
			base += "-" + digest.Bytes([]byte(n.Source.Key()))[:12]
		}
		out[n.Key()] = base
	}
	return out, nil
}

func safeEntryName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
		return false
	}
	return filepath.Base(name) == name && filepath.IsLocal(name)
}

// packageDir joins a layout name onto root and confirms the result is a
// direct child of root.
func packageDir(root, name string) (string, error) {
	dst := filepath.Join(root, name)
	rel, err := filepath.Rel(root, dst)
	if err != nil || rel != name || !safeEntryName(rel) {
		return "", graph.Errorf(graph.ErrInvalidGraph, graph.CodeInvalidGraph,
			map[string]string{"root": filepath.ToSlash(root), "dir": name}, "package directory escapes the vendor root")
	}
	return dst, nil
}

func readMetadata(dir string) (*PackageMetadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var md PackageMetadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return &md, nil
}

// localDir resolves a vendor location to a filesystem path. Anything that
// names a non-local resource is an offline violation.
func localDir(loc string) (string, error) {
	if i := strings.Index(loc, "://"); i > 0 {
		u, err := url.Parse(loc)
		if err != nil || u.Scheme != "file" {
			return "", graph.Errorf(graph.ErrOfflineViolation, graph.CodeOfflineViolation,
				map[string]string{"location": loc}, "vendor location is not on the local filesystem")
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", graph.Errorf(graph.ErrOfflineViolation, graph.CodeOfflineViolation,
				map[string]string{"location": loc}, "file url names a remote host")
		}
		return filepath.FromSlash(u.Path), nil
	}
	if loc == "" {
		return "", graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, nil, "vendor directory is required")
	}
	return loc, nil
}

func fsProblem(err error) (graph.Code, string) {
	if errors.Is(err, fs.ErrPermission) {
		return graph.CodePermissionDenied, err.Error()
	}
	return graph.CodeMissingVendoredPackage, err.Error()
}
