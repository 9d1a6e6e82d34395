package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lockwarden/internal/epoch"
	"lockwarden/internal/graph"
)

const (
	ExitSuccess           = 0
	ExitIntegrityFailure  = 1
	ExitInvalidInvocation = 2
	ExitInputError        = 3
	ExitBoundaryViolation = 4
	ExitInternalError     = 5
)

type Command string

const (
	CommandGraph    Command = "graph"
	CommandVendor   Command = "vendor"
	CommandVerify   Command = "verify"
	CommandSnapshot Command = "snapshot"
	CommandDrift    Command = "drift"
	CommandAudit    Command = "audit"
)

var commands = []Command{CommandGraph, CommandVendor, CommandVerify, CommandSnapshot, CommandDrift, CommandAudit}

// LatestEpoch selects the newest stored epoch in --from-epoch/--to-epoch.
const LatestEpoch = "latest"

// Invocation is the canonicalized description of one command.
//
// All paths are cleaned and relative paths are resolved against WorkDir,
// which must be absolute; parsing never consults the process CWD.
type Invocation struct {
	Command    Command
	WorkDir    string
	ConfigPath string
	Lockfile   string
	Metadata   string
	ProjectID  string
	OutputPath string

	VendorDir string
	Mirrors   []string
	Workers   int

	FromLockfile string
	FromEpoch    string
	ToLockfile   string
	ToEpoch      string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Usage lists the subcommands.
func Usage() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "usage: lockwarden <" + strings.Join(names, "|") + "> --workdir DIR [flags]"
}

// ParseInvocation parses "<command> [flags]" into a canonical Invocation.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("%s", Usage())
	}
	cmd := Command(args[0])
	known := false
	for _, c := range commands {
		known = known || c == cmd
	}
	if !known {
		return Invocation{}, invalidInvocationf("unknown command %q; %s", args[0], Usage())
	}

	fs := flag.NewFlagSet("lockwarden "+string(cmd), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var inv Invocation
	var mirrors stringList
	fs.StringVar(&inv.WorkDir, "workdir", "", "Absolute workspace directory holding Cargo.lock. Required.")
	fs.StringVar(&inv.ConfigPath, "config", "", "Configuration file (default <workdir>/lockwarden.yaml when present).")
	fs.StringVar(&inv.Lockfile, "lockfile", "Cargo.lock", "Lockfile path.")
	fs.StringVar(&inv.Metadata, "metadata", "", "cargo metadata JSON used as enrichment (optional).")
	fs.StringVar(&inv.ProjectID, "project", "", "Project identifier (overrides configuration).")
	fs.StringVar(&inv.OutputPath, "out", "", "Write the result here instead of stdout.")

	switch cmd {
	case CommandVendor, CommandVerify, CommandSnapshot:
		fs.StringVar(&inv.VendorDir, "vendor-dir", "", "Vendor directory (overrides configuration).")
		fs.IntVar(&inv.Workers, "workers", 0, "Concurrent package checks (overrides configuration).")
	}
	if cmd == CommandVendor {
		fs.Var(&mirrors, "mirror", "Local directory of unpacked package sources. Repeatable.")
	}
	if cmd == CommandDrift {
		fs.StringVar(&inv.FromLockfile, "from", "", "Previous lockfile.")
		fs.StringVar(&inv.FromEpoch, "from-epoch", "", "Previous stored epoch ID, or 'latest'.")
		fs.StringVar(&inv.ToLockfile, "to", "", "Current lockfile (default --lockfile).")
		fs.StringVar(&inv.ToEpoch, "to-epoch", "", "Current stored epoch ID, or 'latest'.")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}
	inv.Command = cmd

	if inv.WorkDir == "" {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	inv.WorkDir = filepath.Clean(inv.WorkDir)
	if !filepath.IsAbs(inv.WorkDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", inv.WorkDir)
	}
	if inv.Workers < 0 {
		return Invocation{}, invalidInvocationf("--workers must be >= 0")
	}

	var err error
	resolve := func(p *string) {
		if err != nil || *p == "" {
			return
		}
		*p, err = resolveUnderWorkDir(inv.WorkDir, *p)
	}
	resolve(&inv.ConfigPath)
	resolve(&inv.Lockfile)
	resolve(&inv.Metadata)
	resolve(&inv.OutputPath)
	resolve(&inv.VendorDir)
	resolve(&inv.FromLockfile)
	resolve(&inv.ToLockfile)
	for _, m := range mirrors {
		resolve(&m)
		inv.Mirrors = append(inv.Mirrors, m)
	}
	if err != nil {
		return Invocation{}, err
	}

	if cmd == CommandDrift {
		if (inv.FromLockfile == "") == (inv.FromEpoch == "") {
			return Invocation{}, invalidInvocationf("drift requires exactly one of --from or --from-epoch")
		}
		if inv.ToLockfile != "" && inv.ToEpoch != "" {
			return Invocation{}, invalidInvocationf("--to and --to-epoch are mutually exclusive")
		}
		if inv.ToLockfile == "" && inv.ToEpoch == "" {
			inv.ToLockfile = inv.Lockfile
		}
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error onto the process exit code.
//
// Invocation errors carry their own code. Structured errors map by category;
// a tool timeout counts as a tool failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if graph.CodeOf(err) == graph.CodeToolTimeout || errors.Is(err, ErrToolFailed) {
		return ExitIntegrityFailure
	}
	switch graph.CategoryOf(err) {
	case graph.CategoryIntegrity:
		return ExitIntegrityFailure
	case graph.CategoryConfiguration:
		return ExitInvalidInvocation
	case graph.CategoryParse, graph.CategoryIdentity, graph.CategoryFilesystem:
		return ExitInputError
	case graph.CategoryBoundary:
		return ExitBoundaryViolation
	}
	if errors.Is(err, epoch.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return ExitInputError
	}
	return ExitInternalError
}
