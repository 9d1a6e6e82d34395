package vendoring

import (
	"sort"
	"strconv"

	"lockwarden/internal/digest"
	"lockwarden/internal/graph"
)

// Problem is one integrity or filesystem finding on a manifest entry.
type Problem struct {
	Code    graph.Code `json:"code"`
	Message string     `json:"message"`
}

// Entry is the verification outcome for one package.
type Entry struct {
	Identity         graph.Identity `json:"-"`
	Key              string         `json:"identity"`
	Dir              string         `json:"dir"`
	ExpectedChecksum string         `json:"expected_checksum,omitempty"`
	ActualChecksum   string         `json:"actual_checksum,omitempty"`
	Present          bool           `json:"present"`
	ExpectedCommit   string         `json:"expected_commit,omitempty"`
	RecordedCommit   string         `json:"recorded_commit,omitempty"`
	CommitMatch      bool           `json:"commit_match,omitempty"`
	Checked          bool           `json:"checked"`
	Problems         []Problem      `json:"problems,omitempty"`
}

// Valid reports whether the entry was checked and has no problems.
func (e Entry) Valid() bool {
	return e.Checked && e.Present && len(e.Problems) == 0
}

func (e *Entry) problem(code graph.Code, msg string) {
	e.Problems = append(e.Problems, Problem{Code: code, Message: msg})
}

// Manifest is the result of a vendor or verify pass.
//
// Incomplete is set when the pass was interrupted; unchecked entries keep
// Checked=false and the manifest is never valid.
type Manifest struct {
	Dir          string  `json:"dir"`
	Entries      []Entry `json:"entries"`
	VendorDigest string  `json:"vendor_digest"`
	EpochValid   bool    `json:"epoch_valid"`
	Incomplete   bool    `json:"incomplete"`
}

// Entry returns the entry for an identity key.
func (m *Manifest) Entry(key string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Err returns nil for a valid manifest and an EPOCH_INVALIDATED error
// summarizing the failures otherwise.
func (m *Manifest) Err() error {
	if m.EpochValid {
		return nil
	}
	counts := map[graph.Code]int{}
	unchecked := 0
	for _, e := range m.Entries {
		if !e.Checked {
			unchecked++
		}
		for _, p := range e.Problems {
			counts[p.Code]++
		}
	}
	ctx := map[string]string{"dir": m.Dir, "vendor_digest": m.VendorDigest}
	for code, n := range counts {
		ctx[string(code)] = strconv.Itoa(n)
	}
	if m.Incomplete {
		ctx["unchecked"] = strconv.Itoa(unchecked)
		return graph.Errorf(graph.ErrEpochInvalidated, graph.CodeEpochInvalidated, ctx, "vendor verification was interrupted")
	}
	return graph.Errorf(graph.ErrEpochInvalidated, graph.CodeEpochInvalidated, ctx, "vendored dependencies failed verification")
}

// seal orders the entries canonically and fills in the aggregate fields.
func (m *Manifest) seal() {
	sort.SliceStable(m.Entries, func(i, j int) bool { return m.Entries[i].Identity.Less(m.Entries[j].Identity) })

	parts := make([]digest.Labeled, 0, len(m.Entries))
	valid := !m.Incomplete
	for _, e := range m.Entries {
		if !e.Checked {
			m.Incomplete = true
		}
		if !e.Valid() {
			valid = false
		}
		parts = append(parts, digest.Labeled{Label: e.Key, Digest: e.ActualChecksum})
	}
	m.VendorDigest = digest.Aggregate(parts)
	m.EpochValid = valid && !m.Incomplete
}
