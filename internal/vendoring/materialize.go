package vendoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"lockwarden/internal/graph"
)

// SourceProvider locates an unpacked copy of a package on the local machine.
// It must not fetch anything; returning a non-local location is an offline
// violation.
type SourceProvider interface {
	Locate(ctx context.Context, n graph.Node) (string, error)
}

// ErrSourceNotFound is returned by providers that have no copy of a package.
// Such packages are left out of the vendor directory and reported missing.
var ErrSourceNotFound = errors.New("package source not found")

// DirProvider looks packages up in local mirror directories, such as an
// unpacked registry cache or a directory of git checkouts. Each root is
// searched in order for "<name>-<version>" and, for git packages,
// "<name>-<commit>".
type DirProvider struct {
	Roots []string
}

func (p DirProvider) Locate(ctx context.Context, n graph.Node) (string, error) {
	candidates := []string{n.Name + "-" + n.Version}
	if n.Source.Kind == graph.SourceGit {
		candidates = append(candidates, n.Name+"-"+n.Source.Commit)
	}
	for _, r := range p.Roots {
		root, err := localDir(r)
		if err != nil {
			return "", err
		}
		for _, c := range candidates {
			dir := filepath.Join(root, c)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir, nil
			}
		}
	}
	return "", ErrSourceNotFound
}

// Materialize copies every non-local package of g from provider into dir,
// writes the cargo directory-source configuration, and verifies the result.
func Materialize(ctx context.Context, g *graph.Graph, provider SourceProvider, dir string) (*Manifest, error) {
	return (&Verifier{}).Materialize(ctx, g, provider, dir)
}

// Materialize is the configurable form of the package-level Materialize.
//
// Packages the provider cannot find are skipped and show up as missing in
// the returned manifest. An offline violation from the provider aborts the
// whole operation before anything further is written.
func (v *Verifier) Materialize(ctx context.Context, g *graph.Graph, provider SourceProvider, dir string) (*Manifest, error) {
	root, err := localDir(dir)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, nil, "source provider is required")
	}

	nodes := vendorable(g)
	dirs, err := layout(nodes)
	if err != nil {
		return nil, err
	}

	// All locations are resolved before the target is touched.
	sources := make([]string, len(nodes))
	dsts := make([]string, len(nodes))
	for i, n := range nodes {
		if dsts[i], err = packageDir(root, dirs[n.Key()]); err != nil {
			return nil, err
		}
		loc, err := provider.Locate(ctx, n)
		if errors.Is(err, ErrSourceNotFound) {
			v.logger().Printf("vendor skip package=%s reason=not-found", n.Key())
			continue
		}
		if err != nil {
			return nil, err
		}
		local, err := localDir(loc)
		if err != nil {
			return nil, err
		}
		sources[i] = local
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create vendor dir: %w", err)
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers())
	for i, n := range nodes {
		if sources[i] == "" {
			continue
		}
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			return vendorPackage(sources[i], dsts[i], n)
		})
	}
	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		return nil, err
	}

	if err := writeCargoConfig(root, nodes); err != nil {
		return nil, err
	}
	return v.Verify(ctx, g, root)
}

// vendorPackage replaces dst with a copy of src plus the metadata files.
func vendorPackage(src, dst string, n graph.Node) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clear %s: %w", dst, err)
	}
	files := map[string]string{}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		slash := filepath.ToSlash(rel)
		if excludeMetadata(slash) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, filepath.Join(dst, rel))
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := copyFile(path, filepath.Join(dst, rel))
		if err != nil {
			return err
		}
		files[slash] = sum
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", n.Key(), err)
	}

	md := PackageMetadata{Name: n.Name, Version: n.Version, Source: n.Source.Key()}
	if n.Source.Kind == graph.SourceGit {
		md.Commit = sourceCommit(src, n)
	}
	if err := writeJSON(filepath.Join(dst, MetadataFile), md); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dst, CargoChecksumFile), cargoChecksum(files, n.Source.ExpectedChecksum()))
}

// sourceCommit reports the commit a git package copy was taken from. The
// lockfile pin is never assumed: the commit comes from metadata already in
// src, from its .git directory, or from a mirror directory named after the
// commit. An empty result leaves the copy unverifiable.
func sourceCommit(src string, n graph.Node) string {
	if md, err := readMetadata(src); err == nil && md.Commit != "" {
		return md.Commit
	}
	if c := gitHead(filepath.Join(src, ".git")); c != "" {
		return c
	}
	if n.Source.Commit != "" && filepath.Base(src) == n.Name+"-"+n.Source.Commit {
		return n.Source.Commit
	}
	return ""
}

// gitHead resolves HEAD in a git directory without invoking git. Detached
// heads, loose refs and packed refs are understood.
func gitHead(gitDir string) string {
	b, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(b))
	ref, ok := strings.CutPrefix(head, "ref: ")
	if !ok {
		return commitHash(head)
	}
	if !strings.HasPrefix(ref, "refs/") || !filepath.IsLocal(ref) {
		return ""
	}
	if b, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref))); err == nil {
		return commitHash(strings.TrimSpace(string(b)))
	}
	packed, err := os.ReadFile(filepath.Join(gitDir, "packed-refs"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(packed), "\n") {
		hash, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if ok && name == ref {
			return commitHash(hash)
		}
	}
	return ""
}

func commitHash(s string) string {
	if len(s) != 40 && len(s) != 64 {
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}
	return strings.ToLower(s)
}

func copyFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// cargoChecksum is the .cargo-checksum.json document cargo expects in a
// directory source. Keys are emitted sorted by encoding/json.
func cargoChecksum(files map[string]string, pkg string) map[string]any {
	doc := map[string]any{"files": files, "package": nil}
	if pkg != "" {
		doc["package"] = pkg
	}
	return doc
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}

// sortedKeys is used where map order would otherwise leak into output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
