package graph

import (
	"fmt"
	"strings"
)

// SourceKind is the discriminant of a Source.
type SourceKind string

const (
	SourceRegistry SourceKind = "registry"
	SourceGit      SourceKind = "git"
	SourceLocal    SourceKind = "local"
)

// Rank orders source kinds canonically: registry < git < local.
func (k SourceKind) Rank() int {
	switch k {
	case SourceRegistry:
		return 0
	case SourceGit:
		return 1
	case SourceLocal:
		return 2
	default:
		return 3
	}
}

func (k SourceKind) valid() bool { return k.Rank() < 3 }

// Source says where a package came from. Only the fields for its Kind are set.
//
// Registry checksum and git ref are carried data: the checksum is validated
// for conflicts but does not separate identities, and the ref label is
// metadata only. Git identity is url plus commit.
type Source struct {
	Kind     SourceKind
	URL      string
	Checksum string
	Commit   string
	Ref      string
	Path     string
}

func RegistrySource(url, checksum string) Source {
	return Source{Kind: SourceRegistry, URL: url, Checksum: checksum}
}

func GitSource(url, commit, ref string) Source {
	return Source{Kind: SourceGit, URL: url, Commit: commit, Ref: ref}
}

func LocalSource(path string) Source {
	return Source{Kind: SourceLocal, Path: path}
}

// Key is the identity-bearing rendering of the source. Sparse registries
// keep the "sparse+" protocol in URL, as cargo does, and key on it directly.
func (s Source) Key() string {
	switch s.Kind {
	case SourceRegistry:
		if strings.HasPrefix(s.URL, "sparse+") {
			return s.URL
		}
		return "registry+" + s.URL
	case SourceGit:
		return "git+" + s.URL + "#" + s.Commit
	case SourceLocal:
		return "path+" + s.Path
	default:
		return string(s.Kind)
	}
}

// ExpectedChecksum returns the checksum recorded for the source, if any.
func (s Source) ExpectedChecksum() string {
	if s.Kind == SourceRegistry {
		return s.Checksum
	}
	return ""
}

func (s Source) validate() error {
	if !s.Kind.valid() {
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	switch s.Kind {
	case SourceRegistry:
		if s.URL == "" {
			return fmt.Errorf("registry source requires a url")
		}
	case SourceGit:
		if s.URL == "" || s.Commit == "" {
			return fmt.Errorf("git source requires url and commit")
		}
	case SourceLocal:
		if s.Path == "" {
			return fmt.Errorf("local source requires a path")
		}
	}
	return nil
}
