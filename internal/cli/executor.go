package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"lockwarden/internal/config"
	"lockwarden/internal/drift"
	"lockwarden/internal/epoch"
	"lockwarden/internal/graph"
	"lockwarden/internal/toolrun"
	"lockwarden/internal/vendoring"
)

// ErrToolFailed reports an audit tool that exited non-zero. Its output is
// still emitted.
var ErrToolFailed = errors.New("audit tool reported failure")

type CLIResult struct {
	ExitCode int
}

type session struct {
	inv    Invocation
	cfg    config.Config
	logger *log.Logger
	stderr io.Writer
}

// Execute runs one canonical invocation. The command's artifact goes to
// stdout (or --out) even when the command fails on integrity grounds, so the
// failing manifest can be inspected. Logs go to stderr.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (res CLIResult, err error) {
	if stderr == nil {
		stderr = io.Discard
	}
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	cfg, err := loadConfig(inv)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	s := &session{
		inv:    inv,
		cfg:    cfg,
		logger: log.New(stderr, "lockwarden: ", 0),
		stderr: stderr,
	}

	var payload []byte
	switch inv.Command {
	case CommandGraph:
		payload, err = s.graph()
	case CommandVendor:
		payload, err = s.vendor(ctx)
	case CommandVerify:
		payload, err = s.verify(ctx)
	case CommandSnapshot:
		payload, err = s.snapshot(ctx)
	case CommandDrift:
		payload, err = s.drift(ctx)
	case CommandAudit:
		payload, err = s.audit(ctx)
	default:
		err = invalidInvocationf("unknown command %q", inv.Command)
	}

	if payload != nil {
		if werr := s.emit(stdout, payload); werr != nil && err == nil {
			err = werr
		}
	}
	return CLIResult{ExitCode: ExitCode(err)}, err
}

func loadConfig(inv Invocation) (config.Config, error) {
	if inv.ConfigPath != "" {
		return config.Load(inv.ConfigPath)
	}
	return config.LoadDir(inv.WorkDir)
}

func (s *session) emit(stdout io.Writer, payload []byte) error {
	if s.inv.OutputPath == "" {
		if stdout == nil {
			return nil
		}
		_, err := stdout.Write(payload)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.inv.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(s.inv.OutputPath, payload, 0o644)
}

func jsonPayload(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (s *session) workPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.inv.WorkDir, p)
}

func (s *session) vendorDir() string {
	if s.inv.VendorDir != "" {
		return s.inv.VendorDir
	}
	return s.workPath(s.cfg.Vendor.Dir)
}

func (s *session) verifier() *vendoring.Verifier {
	workers := s.cfg.Vendor.Workers
	if s.inv.Workers > 0 {
		workers = s.inv.Workers
	}
	return &vendoring.Verifier{Workers: workers, Logger: s.logger}
}

func (s *session) openStore(ctx context.Context) (epoch.Store, error) {
	opts := s.cfg.EpochOptions()
	opts.Dir = s.workPath(opts.Dir)
	opts.Logger = s.logger
	return epoch.Open(ctx, opts)
}

func (s *session) graph() ([]byte, error) {
	res, err := s.buildGraph(s.inv.Lockfile, s.inv.Metadata)
	if err != nil {
		return nil, err
	}
	b, err := res.Graph.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (s *session) vendor(ctx context.Context) ([]byte, error) {
	res, err := s.buildGraph(s.inv.Lockfile, s.inv.Metadata)
	if err != nil {
		return nil, err
	}
	mirrors := s.inv.Mirrors
	if len(mirrors) == 0 {
		for _, m := range s.cfg.Vendor.Mirrors {
			mirrors = append(mirrors, s.workPath(m))
		}
	}
	if len(mirrors) == 0 {
		return nil, graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, nil,
			"vendor requires at least one --mirror or vendor.mirrors entry")
	}
	m, err := s.verifier().Materialize(ctx, res.Graph, vendoring.DirProvider{Roots: mirrors}, s.vendorDir())
	if err != nil {
		return nil, err
	}
	return manifestResult(m)
}

func (s *session) verify(ctx context.Context) ([]byte, error) {
	res, err := s.buildGraph(s.inv.Lockfile, s.inv.Metadata)
	if err != nil {
		return nil, err
	}
	m, err := s.verifier().Verify(ctx, res.Graph, s.vendorDir())
	if err != nil {
		return nil, err
	}
	return manifestResult(m)
}

func manifestResult(m *vendoring.Manifest) ([]byte, error) {
	payload, err := jsonPayload(m)
	if err != nil {
		return nil, err
	}
	return payload, m.Err()
}

func (s *session) snapshot(ctx context.Context) ([]byte, error) {
	res, err := s.buildGraph(s.inv.Lockfile, s.inv.Metadata)
	if err != nil {
		return nil, err
	}
	cfgDigest, err := config.Digest(s.cfg)
	if err != nil {
		return nil, err
	}
	in := epoch.Inputs{LockfileDigest: res.LockfileDigest, ConfigDigest: cfgDigest}

	if info, err := os.Stat(s.vendorDir()); err == nil && info.IsDir() {
		m, err := s.verifier().Verify(ctx, res.Graph, s.vendorDir())
		if err != nil {
			return nil, err
		}
		if err := m.Err(); err != nil {
			payload, _ := jsonPayload(m)
			return payload, err
		}
		in.Vendor = m
	} else {
		s.logger.Printf("snapshot vendor dir=%s absent, recording no vendor digest", s.vendorDir())
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if prev, err := epoch.Latest(ctx, store, res.Graph.ProjectID()); err == nil {
		in.Previous = prev.ID
	} else if !errors.Is(err, epoch.ErrNotFound) {
		return nil, err
	}

	e, err := epoch.New(res.Graph, in)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Printf("snapshot epoch=%s project=%s graph=%s vendor=%s", e.ID, e.ProjectID, e.GraphDigest, e.VendorDigest)
	return epoch.Marshal(e)
}

type driftReport struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Records []drift.Record `json:"records"`
	Summary drift.Summary  `json:"summary"`
}

func (s *session) drift(ctx context.Context) ([]byte, error) {
	var store epoch.Store
	if s.inv.FromEpoch != "" || s.inv.ToEpoch != "" {
		st, err := s.openStore(ctx)
		if err != nil {
			return nil, err
		}
		store = st
	}

	prev, fromLabel, err := s.snapshotGraph(ctx, store, s.inv.FromLockfile, s.inv.FromEpoch, "")
	if err != nil {
		return nil, err
	}
	cur, toLabel, err := s.snapshotGraph(ctx, store, s.inv.ToLockfile, s.inv.ToEpoch, s.inv.Metadata)
	if err != nil {
		return nil, err
	}

	opts, err := s.cfg.DriftOptions()
	if err != nil {
		return nil, err
	}
	records := drift.CompareWith(prev, cur, opts)
	if records == nil {
		records = []drift.Record{}
	}
	summary := drift.Summarize(records)
	s.logger.Printf("drift from=%s to=%s records=%d high=%d", fromLabel, toLabel, summary.Total, summary.High)
	return jsonPayload(driftReport{From: fromLabel, To: toLabel, Records: records, Summary: summary})
}

// snapshotGraph loads one side of a drift comparison from a lockfile or a
// stored epoch, returning a label describing where it came from.
func (s *session) snapshotGraph(ctx context.Context, store epoch.Store, lockPath, epochID, metadata string) (*graph.Graph, string, error) {
	if epochID == "" {
		res, err := s.buildGraph(lockPath, metadata)
		if err != nil {
			return nil, "", err
		}
		return res.Graph, res.Graph.Digest().String(), nil
	}
	project := s.projectID()
	if project == "" {
		project = filepath.Base(s.inv.WorkDir)
	}
	var e epoch.Epoch
	var err error
	if epochID == LatestEpoch {
		e, err = epoch.Latest(ctx, store, project)
	} else {
		e, err = store.Get(ctx, project, epochID)
	}
	if err != nil {
		return nil, "", err
	}
	g, err := e.Graph()
	if err != nil {
		return nil, "", err
	}
	return g, "epoch:" + e.ID, nil
}

func (s *session) audit(ctx context.Context) ([]byte, error) {
	argv := s.cfg.Tools.Audit
	if len(argv) == 0 {
		return nil, graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, nil, "tools.audit is empty")
	}
	r := &toolrun.Runner{Timeout: s.cfg.Tools.Timeout, Offline: s.cfg.Offline, Logger: s.logger}
	res, err := r.Run(ctx, toolrun.Command{Name: argv[0], Args: argv[1:], Dir: s.inv.WorkDir})
	if err != nil {
		return nil, err
	}
	if _, err := s.stderr.Write(res.Stderr); err != nil {
		return nil, err
	}
	payload := res.Stdout
	if payload == nil {
		payload = []byte{}
	}
	if res.ExitCode != 0 {
		return payload, fmt.Errorf("%w: %s exited %d", ErrToolFailed, argv[0], res.ExitCode)
	}
	return payload, nil
}
