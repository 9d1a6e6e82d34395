package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lockwarden/internal/drift"
	"lockwarden/internal/graph"
)

const sample = `
project_id: my-service
offline: true
classification:
  overrides: {ring: cryptography}
  patterns: [{kind: glob, pattern: "*-crypto", category: cryptography}]
  use_default_patterns: true
vendor: {workers: 4, dir: vendor, mirrors: [/var/cache/crates]}
drift: {include_dev: false, include_build: true, priority_overrides: {openssl: high}}
tools: {timeout: 90s, audit: [cargo, audit, --json]}
epochs: {dir: .lockwarden/epochs, cache_size: 64, s3: {endpoint: "", bucket: ""}}
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ProjectID != "my-service" || cfg.Vendor.Workers != 4 || cfg.Epochs.CacheSize != 64 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Tools.Timeout != 90*time.Second {
		t.Fatalf("timeout = %v", cfg.Tools.Timeout)
	}
	if cfg.Classification.Overrides["ring"] != "cryptography" || len(cfg.Classification.Patterns) != 1 {
		t.Fatalf("classification = %+v", cfg.Classification)
	}
	opts, err := cfg.DriftOptions()
	if err != nil {
		t.Fatalf("DriftOptions: %v", err)
	}
	if opts.IncludeDev || !opts.IncludeBuild || opts.PriorityOverrides["openssl"] != drift.High {
		t.Fatalf("drift options = %+v", opts)
	}
}

func TestParse_EmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := Default()
	if cfg.Tools.Timeout != def.Tools.Timeout || cfg.Vendor.Dir != "vendor" || !cfg.Offline {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown field", doc: "projct_id: typo\n"},
		{name: "bad pattern", doc: "classification: {patterns: [{kind: regex, pattern: '(', category: cryptography}]}\n"},
		{name: "bad category", doc: "classification: {overrides: {ring: crypto}}\n"},
		{name: "bad priority", doc: "drift: {priority_overrides: {openssl: critical}}\n"},
		{name: "negative workers", doc: "vendor: {workers: -1}\n"},
		{name: "bad duration", doc: "tools: {timeout: soon}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, graph.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if graph.CodeOf(err) != graph.CodeConfigurationInvalid {
				t.Fatalf("code = %q", graph.CodeOf(err))
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvEpochDSN:    "postgres://localhost/lockwarden",
		EnvToolTimeout: "30",
		EnvS3Endpoint:  "localhost:9000",
		EnvS3Bucket:    "epochs",
		EnvS3AccessKey: "minio",
		EnvS3SecretKey: "minio123",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Tools.Timeout)
	}
	opts := cfg.EpochOptions()
	if opts.DSN != env[EnvEpochDSN] || opts.S3.Endpoint != "localhost:9000" || opts.S3.SecretKey != "minio123" {
		t.Fatalf("epoch options = %+v", opts)
	}

	env[EnvToolTimeout] = "eventually"
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); !errors.Is(err, graph.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestDigest_ExcludesSecretsAndTracksSettings(t *testing.T) {
	a := Default()
	b := Default()
	b.Epochs.DSN = "postgres://secret"
	b.Epochs.S3.SecretKey = "hunter2"

	da, err := Digest(a)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, _ := Digest(b)
	if da != db {
		t.Fatalf("secrets changed the digest")
	}

	b.Classification.Overrides = map[string]string{"ring": "cryptography"}
	dc, _ := Digest(b)
	if dc == da {
		t.Fatalf("classification change did not change the digest")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvToolTimeout, "2m")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tools.Timeout != 2*time.Minute {
		t.Fatalf("env override not applied: %v", cfg.Tools.Timeout)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, graph.ErrConfigInvalid) {
		t.Fatalf("explicit missing file should fail, got %v", err)
	}

	cfg, err = LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir without file: %v", err)
	}
	if cfg.ProjectID != "" || cfg.Tools.Timeout != 2*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, DefaultFile), []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadDir(dir)
	if err != nil || cfg.ProjectID != "my-service" {
		t.Fatalf("LoadDir = %+v, %v", cfg.ProjectID, err)
	}
}
