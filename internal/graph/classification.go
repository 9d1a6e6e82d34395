package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Category names a trust-critical class of dependency.
// Custom categories are rendered as "custom:<name>".
type Category string

const (
	Cryptography       Category = "cryptography"
	Authentication     Category = "authentication"
	Serialization      Category = "serialization"
	Transport          Category = "transport"
	Random             Category = "random"
	BuildTimeExecution Category = "build_time_execution"
)

const customPrefix = "custom:"

// Custom returns an operator-defined category.
func Custom(name string) Category { return Category(customPrefix + name) }

// IsCustom reports whether c is an operator-defined category.
func (c Category) IsCustom() bool { return strings.HasPrefix(string(c), customPrefix) }

// ParseCategory accepts the built-in category names and "custom:<name>".
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	switch c {
	case Cryptography, Authentication, Serialization, Transport, Random, BuildTimeExecution:
		return c, nil
	}
	if c.IsCustom() && len(c) > len(customPrefix) {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// SignalKind tags a piece of classification evidence.
type SignalKind string

const (
	SignalExplicitOverride SignalKind = "explicit_override"
	SignalBuildRoleUsage   SignalKind = "build_role_usage"
	SignalNamePattern      SignalKind = "name_pattern"
	SignalMetadataTag      SignalKind = "metadata_tag"
)

// Signal is one piece of evidence behind a classification. Value holds the
// override name, build role, pattern or metadata field respectively.
type Signal struct {
	Kind  SignalKind
	Value string
}

func (s Signal) String() string { return string(s.Kind) + "(" + s.Value + ")" }

// Classification is either Tcs (trust-critical, with a category and at least
// one signal) or Mechanical. The zero value is Mechanical with no signals.
type Classification struct {
	Tcs      bool
	Category Category
	Signals  []Signal
}

// TcsClassification returns a trust-critical classification.
func TcsClassification(c Category, signals ...Signal) Classification {
	return Classification{Tcs: true, Category: c, Signals: signals}
}

// Mechanical returns a non-critical classification.
func Mechanical(signals ...Signal) Classification {
	return Classification{Signals: signals}
}

// Validate checks that a Tcs result is explained.
func (c Classification) Validate() error {
	if !c.Tcs {
		if c.Category != "" {
			return errors.New("mechanical classification must not carry a category")
		}
		return nil
	}
	if c.Category == "" {
		return errors.New("tcs classification requires a category")
	}
	if len(c.Signals) == 0 {
		return errors.New("tcs classification requires at least one signal")
	}
	return nil
}

// Equal compares category, flag and signal list in order.
func (c Classification) Equal(o Classification) bool {
	if c.Tcs != o.Tcs || c.Category != o.Category || len(c.Signals) != len(o.Signals) {
		return false
	}
	for i := range c.Signals {
		if c.Signals[i] != o.Signals[i] {
			return false
		}
	}
	return true
}

func (c Classification) clone() Classification {
	out := c
	if c.Signals != nil {
		out.Signals = append([]Signal(nil), c.Signals...)
	}
	return out
}
