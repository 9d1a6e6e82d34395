package drift

import (
	"encoding/json"
	"fmt"

	"lockwarden/internal/graph"
)

// Kind is the type of change a Record describes.
type Kind string

const (
	Added          Kind = "added"
	Removed        Kind = "removed"
	VersionChanged Kind = "version_changed"
	SourceChanged  Kind = "source_changed"
)

func (k Kind) rank() int {
	switch k {
	case Added:
		return 0
	case Removed:
		return 1
	case VersionChanged:
		return 2
	default:
		return 3
	}
}

// Priority is derived from classification. SourceChanged is always High.
type Priority string

const (
	High Priority = "high"
	Low  Priority = "low"
)

// ParsePriority accepts "high" and "low".
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case High, Low:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown drift priority %q", s)
}

// Key identifies the logical dependency a record is about.
type Key struct {
	Name       string
	SourceKind graph.SourceKind
}

// Record is one detected change. Before is nil for Added and After is nil
// for Removed.
type Record struct {
	Key      Key
	Kind     Kind
	Before   *graph.Node
	After    *graph.Node
	Priority Priority
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s -> %s [%s]", r.Kind, r.Key.Name, endpointLabel(r.Before), endpointLabel(r.After), r.Priority)
}

func endpointLabel(n *graph.Node) string {
	if n == nil {
		return "-"
	}
	return n.Version + " (" + n.Source.Key() + ")"
}

type endpointJSON struct {
	Identity string           `json:"identity"`
	Version  string           `json:"version"`
	Source   string           `json:"source"`
	Checksum string           `json:"checksum,omitempty"`
	Kind     graph.SourceKind `json:"source_kind"`
	Tcs      bool             `json:"tcs"`
	Category graph.Category   `json:"category,omitempty"`
}

type recordJSON struct {
	Name       string           `json:"name"`
	SourceKind graph.SourceKind `json:"source_kind"`
	Kind       Kind             `json:"kind"`
	Before     *endpointJSON    `json:"before"`
	After      *endpointJSON    `json:"after"`
	Priority   Priority         `json:"priority"`
}

func endpoint(n *graph.Node) *endpointJSON {
	if n == nil {
		return nil
	}
	return &endpointJSON{
		Identity: n.Key(),
		Version:  n.Version,
		Source:   n.Source.Key(),
		Checksum: n.Source.ExpectedChecksum(),
		Kind:     n.Source.Kind,
		Tcs:      n.Classification.Tcs,
		Category: n.Classification.Category,
	}
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Name:       r.Key.Name,
		SourceKind: r.Key.SourceKind,
		Kind:       r.Kind,
		Before:     endpoint(r.Before),
		After:      endpoint(r.After),
		Priority:   r.Priority,
	})
}

// Summary counts records by kind and priority.
type Summary struct {
	Total          int `json:"total"`
	Added          int `json:"added"`
	Removed        int `json:"removed"`
	VersionChanged int `json:"version_changed"`
	SourceChanged  int `json:"source_changed"`
	High           int `json:"high"`
	Low            int `json:"low"`
	Tcs            int `json:"tcs"`
}

// Summarize tallies records.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch r.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case VersionChanged:
			s.VersionChanged++
		case SourceChanged:
			s.SourceChanged++
		}
		if r.Priority == High {
			s.High++
		} else {
			s.Low++
		}
		if tcs(r.Before) || tcs(r.After) {
			s.Tcs++
		}
	}
	return s
}

func tcs(n *graph.Node) bool { return n != nil && n.Classification.Tcs }
