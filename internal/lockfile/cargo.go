package lockfile

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"lockwarden/internal/graph"
)

type cargoLock struct {
	Version  int               `toml:"version"`
	Packages []cargoPackage    `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

type cargoPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
}

const legacyChecksumPrefix = "checksum "

func parseCargoLock(contents []byte) (*cargoLock, error) {
	var lock cargoLock
	if err := toml.Unmarshal(contents, &lock); err != nil {
		ctx := map[string]string{}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			ctx["line"] = strconv.Itoa(row)
			ctx["column"] = strconv.Itoa(col)
		}
		return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse, ctx, "malformed Cargo.lock").Wrap(err)
	}
	for i, p := range lock.Packages {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Version) == "" {
			return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
				map[string]string{"package_index": strconv.Itoa(i)}, "package entry requires name and version")
		}
		// Names and versions become vendor directory names.
		if !validName.MatchString(p.Name) || !validVersion.MatchString(p.Version) {
			return nil, graph.Errorf(graph.ErrParseFailure, graph.CodeLockfileParse,
				map[string]string{"package_index": strconv.Itoa(i), "name": p.Name, "version": p.Version},
				"package name or version contains characters cargo does not allow")
		}
	}
	return &lock, nil
}

var (
	validName    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	validVersion = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z.+-]*$`)
)

// legacyChecksum looks up a checksum recorded in the v1 [metadata] table.
func (l *cargoLock) legacyChecksum(p cargoPackage) string {
	if len(l.Metadata) == 0 || p.Source == "" {
		return ""
	}
	key := fmt.Sprintf("%s%s %s (%s)", legacyChecksumPrefix, p.Name, p.Version, p.Source)
	v := l.Metadata[key]
	if v == "<none>" {
		return ""
	}
	return v
}

// depRef is a parsed entry of a package's dependencies list:
// "name", "name version" or "name version (source)".
type depRef struct {
	raw     string
	name    string
	version string
	source  string
}

func parseDepRef(s string) (depRef, error) {
	ref := depRef{raw: s}
	rest := strings.TrimSpace(s)
	if i := strings.Index(rest, " ("); i >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return ref, fmt.Errorf("unterminated source in dependency %q", s)
		}
		ref.source = rest[i+2 : len(rest)-1]
		rest = rest[:i]
	}
	fields := strings.Fields(rest)
	switch len(fields) {
	case 1:
		ref.name = fields[0]
	case 2:
		ref.name, ref.version = fields[0], fields[1]
	default:
		return ref, fmt.Errorf("malformed dependency reference %q", s)
	}
	return ref, nil
}
