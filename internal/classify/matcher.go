package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/cases"

	"lockwarden/internal/graph"
)

// MatcherKind selects how a pattern is compared against a node.
type MatcherKind string

const (
	MatchExact   MatcherKind = "exact"
	MatchPrefix  MatcherKind = "prefix"
	MatchSuffix  MatcherKind = "suffix"
	MatchRegex   MatcherKind = "regex"
	MatchGlob    MatcherKind = "glob"
	MatchKeyword MatcherKind = "keyword"
)

// Metadata annotation keys consulted by keyword matchers, in any namespace.
var keywordFields = []string{"keywords", "categories"}

type matcher interface {
	// match returns whether the node matched and, for metadata matchers, the
	// annotation key that matched.
	match(n graph.Node) (bool, string)
}

type nameFunc func(string) bool

func (f nameFunc) match(n graph.Node) (bool, string) { return f(n.Name), "" }

type globMatcher struct{ g glob.Glob }

func (m globMatcher) match(n graph.Node) (bool, string) { return m.g.Match(n.Name), "" }

// keywordMatcher compares case-folded metadata values. A Caser holds state,
// so each match uses its own.
type keywordMatcher struct {
	folded string
}

func (m keywordMatcher) match(n graph.Node) (bool, string) {
	fold := cases.Fold()
	for _, key := range n.Annotations.Keys() {
		if !isKeywordField(key) {
			continue
		}
		for _, v := range strings.Split(n.Annotations[key], ",") {
			if fold.String(strings.TrimSpace(v)) == m.folded {
				return true, key
			}
		}
	}
	return false, ""
}

func isKeywordField(key string) bool {
	dot := strings.LastIndex(key, ".")
	if dot < 0 {
		return false
	}
	field := key[dot+1:]
	for _, f := range keywordFields {
		if field == f {
			return true
		}
	}
	return false
}

func compileMatcher(kind MatcherKind, pattern string) (matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	switch kind {
	case MatchExact:
		return nameFunc(func(s string) bool { return s == pattern }), nil
	case MatchPrefix:
		return nameFunc(func(s string) bool { return strings.HasPrefix(s, pattern) }), nil
	case MatchSuffix:
		return nameFunc(func(s string) bool { return strings.HasSuffix(s, pattern) }), nil
	case MatchRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regex %q: %w", pattern, err)
		}
		return nameFunc(re.MatchString), nil
	case MatchGlob:
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		return globMatcher{g: g}, nil
	case MatchKeyword:
		return keywordMatcher{folded: cases.Fold().String(pattern)}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", kind)
	}
}
