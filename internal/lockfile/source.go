package lockfile

import (
	"fmt"
	"net/url"
	"strings"

	"lockwarden/internal/graph"
)

const (
	registryPrefix = "registry+"
	sparsePrefix   = "sparse+"
	gitPrefix      = "git+"
)

// gitRefKeys are the query keys cargo uses for the requested git reference.
var gitRefKeys = []string{"branch", "tag", "rev"}

// parseSource converts a Cargo.lock source string. An empty string is a
// local package; its path is filled in later from the workspace.
func parseSource(raw, checksum string) (graph.Source, error) {
	switch {
	case raw == "":
		return graph.Source{Kind: graph.SourceLocal}, nil
	case strings.HasPrefix(raw, registryPrefix):
		u := strings.TrimPrefix(raw, registryPrefix)
		if u == "" {
			return graph.Source{}, fmt.Errorf("registry source %q has no url", raw)
		}
		return graph.RegistrySource(u, checksum), nil
	case strings.HasPrefix(raw, sparsePrefix):
		// Cargo names sparse indexes with the protocol prefix; the source key
		// is then the raw lockfile string.
		if raw == sparsePrefix {
			return graph.Source{}, fmt.Errorf("sparse source %q has no url", raw)
		}
		return graph.RegistrySource(raw, checksum), nil
	case strings.HasPrefix(raw, gitPrefix):
		return parseGitSource(strings.TrimPrefix(raw, gitPrefix))
	default:
		return graph.Source{}, fmt.Errorf("unsupported source %q", raw)
	}
}

// parseGitSource splits "url?branch=x#commit". The query label becomes
// metadata; url plus commit is the identity.
func parseGitSource(s string) (graph.Source, error) {
	hash := strings.LastIndex(s, "#")
	if hash < 0 || hash == len(s)-1 {
		return graph.Source{}, fmt.Errorf("git source %q is not pinned to a commit", s)
	}
	commit := s[hash+1:]
	base := s[:hash]

	u, err := url.Parse(base)
	if err != nil {
		return graph.Source{}, fmt.Errorf("git source url: %w", err)
	}
	ref := ""
	q := u.Query()
	for _, k := range gitRefKeys {
		if v := q.Get(k); v != "" {
			ref = k + "=" + v
			break
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	if u.String() == "" {
		return graph.Source{}, fmt.Errorf("git source %q has no url", s)
	}
	return graph.GitSource(u.String(), commit, ref), nil
}
