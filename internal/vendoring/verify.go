package vendoring

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"lockwarden/internal/graph"
)

// Verifier checks vendored trees against a graph.
type Verifier struct {
	// Workers bounds concurrent per-package checks. Defaults to GOMAXPROCS.
	Workers int

	// Logger receives progress lines. Nil discards them.
	Logger *log.Logger
}

func (v *Verifier) workers() int {
	if v != nil && v.Workers > 0 {
		return v.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (v *Verifier) logger() *log.Logger {
	if v != nil && v.Logger != nil {
		return v.Logger
	}
	return log.New(io.Discard, "", 0)
}

// Verify checks dir against g with default settings.
func Verify(ctx context.Context, g *graph.Graph, dir string) (*Manifest, error) {
	return (&Verifier{}).Verify(ctx, g, dir)
}

// Verify recomputes every package digest under dir and compares it with g.
//
// Per-package failures are recorded on the manifest rather than returned.
// The error return is reserved for boundary and configuration failures, such
// as a dir that is not local. Cancelling ctx stops scheduling further
// packages and yields an Incomplete manifest.
func (v *Verifier) Verify(ctx context.Context, g *graph.Graph, dir string) (*Manifest, error) {
	root, err := localDir(dir)
	if err != nil {
		return nil, err
	}

	nodes := vendorable(g)
	dirs, err := layout(nodes)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Dir: filepath.ToSlash(root), Entries: make([]Entry, len(nodes))}
	for i, n := range nodes {
		m.Entries[i] = Entry{
			Identity:         n.Identity,
			Key:              n.Key(),
			Dir:              dirs[n.Key()],
			ExpectedChecksum: n.Source.ExpectedChecksum(),
			ExpectedCommit:   n.Source.Commit,
		}
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers())
	for i := range nodes {
		if egctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if egctx.Err() != nil {
				return nil
			}
			checkEntry(root, nodes[i], &m.Entries[i])
			return nil
		})
	}
	_ = eg.Wait()

	m.seal()
	v.logger().Printf("vendor verify dir=%s entries=%d valid=%t incomplete=%t digest=%s",
		m.Dir, len(m.Entries), m.EpochValid, m.Incomplete, m.VendorDigest)
	return m, nil
}

// checkEntry fills in one manifest entry. It only writes to e.
func checkEntry(root string, n graph.Node, e *Entry) {
	defer func() { e.Checked = true }()

	pkgDir, err := packageDir(root, e.Dir)
	if err != nil {
		e.problem(graph.CodeInvalidGraph, err.Error())
		return
	}
	info, err := os.Stat(pkgDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.problem(graph.CodeMissingVendoredPackage, "vendored package directory is missing")
			return
		}
		e.problem(fsProblem(err))
		return
	}
	if !info.IsDir() {
		e.problem(graph.CodeMissingVendoredPackage, "vendored package path is not a directory")
		return
	}
	e.Present = true

	actual, err := treeDigest(pkgDir)
	if err != nil {
		e.problem(fsProblem(err))
		return
	}
	e.ActualChecksum = actual

	switch n.Source.Kind {
	case graph.SourceRegistry:
		switch {
		case e.ExpectedChecksum == "":
			e.problem(graph.CodeChecksumMismatch, "lockfile records no checksum for registry package")
		case actual != e.ExpectedChecksum:
			e.problem(graph.CodeChecksumMismatch, "vendored tree does not match lockfile checksum")
		}
	case graph.SourceGit:
		md, err := readMetadata(pkgDir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			e.problem(graph.CodeCommitMismatch, "vendored git package has no recorded commit")
		case err != nil:
			e.problem(graph.CodeCommitMismatch, err.Error())
		default:
			e.RecordedCommit = md.Commit
			e.CommitMatch = md.Commit == n.Source.Commit
			if !e.CommitMatch {
				e.problem(graph.CodeCommitMismatch, "vendored commit differs from lockfile pin")
			}
		}
	}
}
