package classify

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"lockwarden/internal/graph"
)

// PatternConfig is one operator-supplied pattern rule.
type PatternConfig struct {
	// ID optionally names the rule; it is reported in the NamePattern signal.
	// When empty the pattern text is reported instead.
	ID       string      `yaml:"id,omitempty" json:"id,omitempty"`
	Kind     MatcherKind `yaml:"kind" json:"kind"`
	Pattern  string      `yaml:"pattern" json:"pattern"`
	Category string      `yaml:"category" json:"category"`
}

// Config is the classification configuration as loaded from disk.
type Config struct {
	Overrides          map[string]string `yaml:"overrides" json:"overrides"`
	Patterns           []PatternConfig   `yaml:"patterns" json:"patterns"`
	UseDefaultPatterns bool              `yaml:"use_default_patterns" json:"use_default_patterns"`
}

type rule struct {
	label    string
	category graph.Category
	m        matcher
}

// compile validates the configuration and reports every problem at once.
func (c Config) compile() (map[string]graph.Category, []rule, error) {
	var problems []error

	overrides := make(map[string]graph.Category, len(c.Overrides))
	names := make([]string, 0, len(c.Overrides))
	for name := range c.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			problems = append(problems, errors.New("override with empty package name"))
			continue
		}
		cat, err := graph.ParseCategory(c.Overrides[name])
		if err != nil {
			problems = append(problems, fmt.Errorf("override %q: %w", name, err))
			continue
		}
		overrides[name] = cat
	}

	patterns := c.Patterns
	if c.UseDefaultPatterns {
		patterns = append(append([]PatternConfig(nil), patterns...), DefaultPatterns()...)
	}
	rules := make([]rule, 0, len(patterns))
	for i, p := range patterns {
		cat, err := graph.ParseCategory(p.Category)
		if err != nil {
			problems = append(problems, fmt.Errorf("patterns[%d]: %w", i, err))
			continue
		}
		m, err := compileMatcher(p.Kind, p.Pattern)
		if err != nil {
			problems = append(problems, fmt.Errorf("patterns[%d]: %w", i, err))
			continue
		}
		label := p.ID
		if label == "" {
			label = p.Pattern
		}
		rules = append(rules, rule{label: label, category: cat, m: m})
	}

	if len(problems) > 0 {
		return nil, nil, graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid,
			map[string]string{"problems": strconv.Itoa(len(problems))},
			"classification configuration is invalid").Wrap(errors.Join(problems...))
	}
	return overrides, rules, nil
}

// DefaultPatterns returns the built-in rule set. Rules are anchored to crate
// name boundaries.
func DefaultPatterns() []PatternConfig {
	return []PatternConfig{
		{ID: "crypto-sha2", Kind: MatchRegex, Pattern: `sha2`, Category: string(graph.Cryptography)},
		{ID: "crypto-aes", Kind: MatchRegex, Pattern: `(^|[-_])aes($|[-_])`, Category: string(graph.Cryptography)},
		{ID: "crypto-ring", Kind: MatchExact, Pattern: "ring", Category: string(graph.Cryptography)},
		{ID: "auth-jwt", Kind: MatchRegex, Pattern: `jwt`, Category: string(graph.Authentication)},
		{ID: "auth-oauth", Kind: MatchRegex, Pattern: `oauth`, Category: string(graph.Authentication)},
		{ID: "serde-core", Kind: MatchRegex, Pattern: `^serde($|[-_])`, Category: string(graph.Serialization)},
		{ID: "serialization-toml", Kind: MatchRegex, Pattern: `toml`, Category: string(graph.Serialization)},
		{ID: "transport-tokio", Kind: MatchRegex, Pattern: `^tokio($|[-_])`, Category: string(graph.Transport)},
		{ID: "transport-hyper", Kind: MatchRegex, Pattern: `^hyper($|[-_])`, Category: string(graph.Transport)},
		{ID: "database-diesel", Kind: MatchRegex, Pattern: `diesel`, Category: string(graph.Custom("database"))},
		{ID: "database-sqlx", Kind: MatchRegex, Pattern: `sqlx`, Category: string(graph.Custom("database"))},
		{ID: "random-rand", Kind: MatchRegex, Pattern: `^rand($|[-_])`, Category: string(graph.Random)},
	}
}
