package vendoring

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"lockwarden/internal/digest"
	"lockwarden/internal/graph"
)

// CargoConfigFile is written at the vendor root. Its contents belong in the
// project's .cargo/config.toml; lockwarden never writes there itself.
const CargoConfigFile = "cargo-config.toml"

const vendoredSourceName = "vendored-sources"

var cratesIOIndexes = map[string]bool{
	"https://github.com/rust-lang/crates.io-index": true,
	"sparse+https://index.crates.io/":              true,
}

type cargoSource struct {
	Registry    string `toml:"registry,omitempty"`
	Git         string `toml:"git,omitempty"`
	Rev         string `toml:"rev,omitempty"`
	Directory   string `toml:"directory,omitempty"`
	ReplaceWith string `toml:"replace-with,omitempty"`
}

type cargoConfig struct {
	Source map[string]cargoSource `toml:"source"`
}

// sourceReplacement builds the [source] tables that redirect every
// registry and git source used by nodes to the vendor directory.
func sourceReplacement(root string, nodes []graph.Node) cargoConfig {
	cfg := cargoConfig{Source: map[string]cargoSource{
		vendoredSourceName: {Directory: filepath.ToSlash(root)},
	}}
	for _, n := range nodes {
		switch n.Source.Kind {
		case graph.SourceRegistry:
			if cratesIOIndexes[n.Source.URL] {
				cfg.Source["crates-io"] = cargoSource{ReplaceWith: vendoredSourceName}
				continue
			}
			name := "registry-" + digest.Bytes([]byte(n.Source.URL))[:12]
			cfg.Source[name] = cargoSource{Registry: n.Source.URL, ReplaceWith: vendoredSourceName}
		case graph.SourceGit:
			name := "git-" + digest.Bytes([]byte(n.Source.Key()))[:12]
			cfg.Source[name] = cargoSource{Git: n.Source.URL, Rev: n.Source.Commit, ReplaceWith: vendoredSourceName}
		}
	}
	return cfg
}

func writeCargoConfig(root string, nodes []graph.Node) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	b, err := toml.Marshal(sourceReplacement(abs, nodes))
	if err != nil {
		return fmt.Errorf("encode cargo config: %w", err)
	}
	return os.WriteFile(filepath.Join(root, CargoConfigFile), b, 0o644)
}

// ReadCargoConfig parses a previously written source-replacement file and
// returns the source table names in sorted order.
func ReadCargoConfig(root string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(root, CargoConfigFile))
	if err != nil {
		return nil, err
	}
	var cfg cargoConfig
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode cargo config: %w", err)
	}
	return sortedKeys(cfg.Source), nil
}
