package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	icl "lockwarden/internal/cli"
	"lockwarden/internal/graph"
)

const workspaceLock = `# This file is automatically @generated by Cargo.
version = 3

[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "helper",
 "serde",
]

[[package]]
name = "helper"
version = "0.1.0"
dependencies = [
 "serde",
]

[[package]]
name = "serde"
version = "1.0.210"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "c1"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// newWorkspace lays out a two-member cargo workspace under a fresh directory.
func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname = \"app\"\nversion = \"0.1.0\"\n\n[workspace]\nmembers = [\"crates/*\"]\n")
	writeFile(t, filepath.Join(dir, "crates", "helper", "Cargo.toml"), "[package]\nname = \"helper\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(dir, "Cargo.lock"), workspaceLock)
	return dir
}

func run(t *testing.T, args ...string) (icl.CLIResult, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	res, err := icl.Run(context.Background(), args, &stdout, &stderr)
	return res, stdout.String(), err
}

func TestDeterministicInvocation_IdenticalWorkspacesIdenticalGraphs(t *testing.T) {
	ws1 := newWorkspace(t)
	ws2 := newWorkspace(t)

	res1, out1, err := run(t, "graph", "--workdir", ws1, "--project", "demo")
	if err != nil || res1.ExitCode != icl.ExitSuccess {
		t.Fatalf("run1: exit=%d err=%v", res1.ExitCode, err)
	}
	res2, out2, err := run(t, "graph", "--workdir", ws2, "--project", "demo")
	if err != nil || res2.ExitCode != icl.ExitSuccess {
		t.Fatalf("run2: exit=%d err=%v", res2.ExitCode, err)
	}
	if out1 != out2 {
		t.Fatalf("graphs of identical workspaces differ:\n%s\n%s", out1, out2)
	}

	g, err := graph.Decode([]byte(out1))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	local, serdeDependents := 0, 0
	for _, n := range g.Nodes() {
		if n.Source.Kind == graph.SourceLocal {
			local++
		}
		if n.Name == "serde" {
			serdeDependents = len(g.Dependents(n.Key()))
		}
	}
	if local != 2 || serdeDependents != 2 {
		t.Fatalf("unexpected graph shape: %s", out1)
	}
}

func TestDeterministicInvocation_IndependentOfCwd(t *testing.T) {
	ws := newWorkspace(t)
	_, want, err := run(t, "graph", "--workdir", ws)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	t.Chdir(t.TempDir())
	_, got, err := run(t, "graph", "--workdir", ws)
	if err != nil {
		t.Fatalf("run after chdir: %v", err)
	}
	if got != want {
		t.Fatalf("output depends on the working directory")
	}
}

func TestRun_MissingWorkspaceMemberIsInputError(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.RemoveAll(filepath.Join(ws, "crates", "helper")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res, out, err := run(t, "graph", "--workdir", ws)
	if err == nil || res.ExitCode != icl.ExitInputError {
		t.Fatalf("exit=%d err=%v", res.ExitCode, err)
	}
	if graph.CodeOf(err) != graph.CodeMissingLocalDependency {
		t.Fatalf("code = %s", graph.CodeOf(err))
	}
	if out != "" {
		t.Fatalf("no partial graph should be emitted, got %q", out)
	}
}

func TestRun_DanglingDependencyIsInputError(t *testing.T) {
	ws := newWorkspace(t)
	writeFile(t, filepath.Join(ws, "Cargo.lock"), strings.Replace(workspaceLock, ` "serde",
]

[[package]]
name = "helper"`, ` "serde",
 "missing",
]

[[package]]
name = "helper"`, 1))

	res, _, err := run(t, "graph", "--workdir", ws)
	if res.ExitCode != icl.ExitInputError || graph.CodeOf(err) != graph.CodeDanglingEdge {
		t.Fatalf("exit=%d err=%v", res.ExitCode, err)
	}
}

func TestRun_VendorSkipsWorkspacePackages(t *testing.T) {
	ws := newWorkspace(t)
	mirror := t.TempDir()
	writeFile(t, filepath.Join(mirror, "serde-1.0.210", "src", "lib.rs"), "pub trait Serialize {}\n")

	// The lockfile checksum is a placeholder, so the manifest must report a
	// mismatch for serde and nothing for the local packages.
	res, out, err := run(t, "vendor", "--workdir", ws, "--mirror", mirror)
	if res.ExitCode != icl.ExitIntegrityFailure || graph.CodeOf(err) != graph.CodeEpochInvalidated {
		t.Fatalf("exit=%d err=%v", res.ExitCode, err)
	}
	if strings.Contains(out, "path+") {
		t.Fatalf("local packages must not be vendored:\n%s", out)
	}
	if !strings.Contains(out, string(graph.CodeChecksumMismatch)) {
		t.Fatalf("expected a checksum mismatch:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(ws, "vendor", "helper-0.1.0")); !os.IsNotExist(err) {
		t.Fatalf("helper should not be copied, stat err = %v", err)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	res, _, err := run(t)
	if err == nil || res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("exit=%d err=%v", res.ExitCode, err)
	}
	res, _, err = run(t, "graph", "--workdir", "relative/dir")
	if err == nil || res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("exit=%d err=%v", res.ExitCode, err)
	}
}
