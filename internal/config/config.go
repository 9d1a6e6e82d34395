// Package config loads lockwarden.yaml and applies environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lockwarden/internal/classify"
	"lockwarden/internal/digest"
	"lockwarden/internal/drift"
	"lockwarden/internal/epoch"
	"lockwarden/internal/graph"
)

// DefaultFile is the configuration file looked up by LoadDir.
const DefaultFile = "lockwarden.yaml"

// Environment variables that override file settings.
const (
	EnvEpochDSN    = "LOCKWARDEN_EPOCH_DSN"
	EnvToolTimeout = "LOCKWARDEN_TOOL_TIMEOUT"
	EnvS3Endpoint  = "LOCKWARDEN_S3_ENDPOINT"
	EnvS3Bucket    = "LOCKWARDEN_S3_BUCKET"
	EnvS3AccessKey = "LOCKWARDEN_S3_ACCESS_KEY"
	EnvS3SecretKey = "LOCKWARDEN_S3_SECRET_KEY"
)

type Config struct {
	ProjectID      string          `yaml:"project_id" json:"project_id"`
	Offline        bool            `yaml:"offline" json:"offline"`
	Classification classify.Config `yaml:"classification" json:"classification"`
	Vendor         VendorConfig    `yaml:"vendor" json:"vendor"`
	Drift          DriftConfig     `yaml:"drift" json:"drift"`
	Tools          ToolsConfig     `yaml:"tools" json:"tools"`
	Epochs         EpochsConfig    `yaml:"epochs" json:"epochs"`
}

type VendorConfig struct {
	Workers int    `yaml:"workers" json:"workers"`
	Dir     string `yaml:"dir" json:"dir"`

	// Mirrors are local directories holding unpacked package sources.
	Mirrors []string `yaml:"mirrors" json:"mirrors"`
}

type DriftConfig struct {
	IncludeDev        bool              `yaml:"include_dev" json:"include_dev"`
	IncludeBuild      bool              `yaml:"include_build" json:"include_build"`
	PriorityOverrides map[string]string `yaml:"priority_overrides" json:"priority_overrides"`
}

type ToolsConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Audit   []string      `yaml:"audit" json:"audit"`
}

type EpochsConfig struct {
	Dir       string `yaml:"dir" json:"dir"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`

	// DSN and S3 credentials never enter the config digest.
	DSN string   `yaml:"dsn" json:"-"`
	S3  S3Config `yaml:"s3" json:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	AccessKey string `yaml:"-" json:"-"`
	SecretKey string `yaml:"-" json:"-"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	return Config{
		Offline:        true,
		Classification: classify.Config{UseDefaultPatterns: true},
		Vendor:         VendorConfig{Dir: "vendor"},
		Drift:          DriftConfig{IncludeBuild: true},
		Tools: ToolsConfig{
			Timeout: 5 * time.Minute,
			Audit:   []string{"cargo", "audit", "--json"},
		},
		Epochs: EpochsConfig{Dir: ".lockwarden/epochs", CacheSize: 128},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, invalid(path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, invalid(path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDir loads DefaultFile from dir when present, and the defaults
// otherwise.
func LoadDir(dir string) (Config, error) {
	path := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	return Load(path)
}

// Parse decodes a document over the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, invalid("", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func invalid(path string, err error) error {
	var ctx map[string]string
	if path != "" {
		ctx = map[string]string{"path": path}
	}
	return graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, ctx, "load configuration").Wrap(err)
}

// ApplyEnv overlays the LOCKWARDEN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvEpochDSN, &c.Epochs.DSN)
	str(EnvS3Endpoint, &c.Epochs.S3.Endpoint)
	str(EnvS3Bucket, &c.Epochs.S3.Bucket)
	str(EnvS3AccessKey, &c.Epochs.S3.AccessKey)
	str(EnvS3SecretKey, &c.Epochs.S3.SecretKey)

	if v, ok := lookup(EnvToolTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			return graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid,
				map[string]string{"variable": EnvToolTimeout, "value": v}, "invalid duration").Wrap(err)
		}
		c.Tools.Timeout = d
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var problems []error
	if c.Vendor.Workers < 0 {
		problems = append(problems, errors.New("vendor.workers must be >= 0"))
	}
	if c.Tools.Timeout <= 0 {
		problems = append(problems, errors.New("tools.timeout must be positive"))
	}
	if c.Epochs.CacheSize < 0 {
		problems = append(problems, errors.New("epochs.cache_size must be >= 0"))
	}
	if _, err := c.DriftOptions(); err != nil {
		problems = append(problems, err)
	}
	if _, err := classify.NewClassifier(c.Classification); err != nil {
		problems = append(problems, fmt.Errorf("classification: %w", err))
	}
	if len(problems) == 0 {
		return nil
	}
	return graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid,
		map[string]string{"problems": strconv.Itoa(len(problems))}, "invalid configuration").Wrap(errors.Join(problems...))
}

// DriftOptions converts the drift section.
func (c Config) DriftOptions() (drift.Options, error) {
	opts := drift.Options{IncludeDev: c.Drift.IncludeDev, IncludeBuild: c.Drift.IncludeBuild}
	for name, raw := range c.Drift.PriorityOverrides {
		p, err := drift.ParsePriority(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return drift.Options{}, fmt.Errorf("drift.priority_overrides[%s]: %w", name, err)
		}
		if opts.PriorityOverrides == nil {
			opts.PriorityOverrides = map[string]drift.Priority{}
		}
		opts.PriorityOverrides[name] = p
	}
	return opts, nil
}

// EpochOptions converts the epochs section.
func (c Config) EpochOptions() epoch.Options {
	return epoch.Options{
		Dir:       c.Epochs.Dir,
		DSN:       c.Epochs.DSN,
		CacheSize: c.Epochs.CacheSize,
		S3: epoch.S3Config{
			Endpoint:  c.Epochs.S3.Endpoint,
			Region:    c.Epochs.S3.Region,
			AccessKey: c.Epochs.S3.AccessKey,
			SecretKey: c.Epochs.S3.SecretKey,
			Bucket:    c.Epochs.S3.Bucket,
			UseSSL:    c.Epochs.S3.UseSSL,
		},
	}
}

// Digest is the sha256 of the configuration's canonical JSON. Secrets and
// the DSN are excluded.
func Digest(c Config) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return digest.Bytes(b), nil
}
