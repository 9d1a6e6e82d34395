package digest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// TreeOptions controls which entries of a directory contribute to its digest.
type TreeOptions struct {
	// Exclude reports whether a slash-separated path relative to the root is
	// left out. Excluded directories are not descended into.
	Exclude func(rel string) bool
}

// Tree computes the digest of every regular file and symlink under root.
//
// Paths are relative, slash-separated and sorted before hashing, so the
// result does not depend on directory iteration order. Only content and path
// contribute; mtimes and permissions are ignored. A symlink contributes its
// target string rather than the content it points to.
func Tree(root string, opts TreeOptions) (string, error) {
	type entry struct {
		rel  string
		abs  string
		link bool
	}
	var entries []entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Exclude != nil && opts.Exclude(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.IsDir():
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			entries = append(entries, entry{rel: rel, abs: path, link: true})
		case d.Type().IsRegular():
			entries = append(entries, entry{rel: rel, abs: path})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	w := NewWriter()
	w.Count(len(entries))
	for _, e := range entries {
		w.String(e.rel)
		if e.link {
			target, err := os.Readlink(e.abs)
			if err != nil {
				return "", fmt.Errorf("readlink %s: %w", e.rel, err)
			}
			w.String("symlink")
			w.String(filepath.ToSlash(target))
			continue
		}
		content, err := os.ReadFile(e.abs)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", e.rel, err)
		}
		w.String("file")
		w.Bytes(content)
	}
	return w.Sum(), nil
}

// Labeled is one named component of an aggregate digest.
type Labeled struct {
	Label  string
	Digest string
}

// Aggregate hashes a list of labeled digests in the order given. Callers are
// responsible for putting the list in canonical order first.
func Aggregate(parts []Labeled) string {
	w := NewWriter()
	w.Count(len(parts))
	for _, p := range parts {
		w.String(p.Label)
		w.String(p.Digest)
	}
	return w.Sum()
}
