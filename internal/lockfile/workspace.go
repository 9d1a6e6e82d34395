package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"lockwarden/internal/graph"
)

const manifestName = "Cargo.toml"

type cargoManifest struct {
	Package *struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Workspace *struct {
		Members []string `toml:"members"`
		Exclude []string `toml:"exclude"`
	} `toml:"workspace"`
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

// discoverLocalPackages maps local package names to their directory relative
// to root, following workspace members and path dependencies from the root
// manifest. Directories without a manifest are skipped, so a package whose
// directory is gone simply does not appear in the result.
func discoverLocalPackages(root string) (map[string]string, error) {
	found := map[string]string{}
	visited := map[string]bool{}
	queue := []string{"."}

	for len(queue) > 0 {
		rel := queue[0]
		queue = queue[1:]
		if visited[rel] {
			continue
		}
		visited[rel] = true

		path := filepath.Join(root, filepath.FromSlash(rel), manifestName)
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, filesystemError(err, path)
		}
		var m cargoManifest
		if err := toml.Unmarshal(b, &m); err != nil {
			return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
				map[string]string{"path": filepath.ToSlash(path)}, "malformed workspace manifest").Wrap(err)
		}

		if m.Package != nil && m.Package.Name != "" {
			if _, dup := found[m.Package.Name]; !dup {
				found[m.Package.Name] = rel
			}
		}

		var next []string
		if m.Workspace != nil && rel == "." {
			members, err := expandMembers(root, m.Workspace.Members, m.Workspace.Exclude)
			if err != nil {
				return nil, err
			}
			next = append(next, members...)
		}
		for _, table := range []map[string]any{m.Dependencies, m.BuildDependencies, m.DevDependencies} {
			next = append(next, pathDependencies(rel, table)...)
		}
		queue = append(queue, next...)
	}
	return found, nil
}

func expandMembers(root string, members, exclude []string) ([]string, error) {
	excluded := map[string]bool{}
	for _, e := range exclude {
		excluded[cleanRel(e)] = true
	}
	set := map[string]struct{}{}
	for _, pattern := range members {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
				map[string]string{"member": pattern}, "invalid workspace member pattern").Wrap(err)
		}
		if len(matches) == 0 {
			// A literal member that matched nothing is still visited.
			set[cleanRel(pattern)] = struct{}{}
			continue
		}
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				return nil, err
			}
			set[cleanRel(rel)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for rel := range set {
		if !excluded[rel] {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

func pathDependencies(base string, table map[string]any) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		spec, ok := table[name].(map[string]any)
		if !ok {
			continue
		}
		p, ok := spec["path"].(string)
		if !ok || p == "" {
			continue
		}
		out = append(out, cleanRel(filepath.Join(filepath.FromSlash(base), filepath.FromSlash(p))))
	}
	return out
}

func cleanRel(p string) string {
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
}

func filesystemError(err error, path string) error {
	ctx := map[string]string{"path": filepath.ToSlash(path)}
	if errors.Is(err, fs.ErrPermission) {
		return graph.Errorf(graph.ErrPermissionDenied, graph.CodePermissionDenied, ctx, "permission denied").Wrap(err)
	}
	return graph.Errorf(graph.ErrMissingLocalDependency, graph.CodeMissingLocalDependency, ctx, "cannot read local path").Wrap(err)
}
