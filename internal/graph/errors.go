package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel kinds. Match with errors.Is.
var (
	ErrInvalidGraph           = errors.New("invalid dependency graph")
	ErrParseFailure           = errors.New("parse failure")
	ErrChecksumConflict       = errors.New("checksum conflict")
	ErrDanglingEdge           = errors.New("dangling edge")
	ErrMissingLocalDependency = errors.New("missing local dependency")
	ErrMissingVendoredPackage = errors.New("missing vendored package")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
	ErrCommitMismatch         = errors.New("commit mismatch")
	ErrEpochInvalidated       = errors.New("epoch invalidated")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrOfflineViolation       = errors.New("offline violation")
	ErrToolTimeout            = errors.New("tool timeout")
)

// ErrorCategory groups error codes by the kind of action needed to resolve them.
type ErrorCategory string

const (
	CategoryParse         ErrorCategory = "parse"
	CategoryIdentity      ErrorCategory = "identity"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryIntegrity     ErrorCategory = "integrity"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryBoundary      ErrorCategory = "boundary"
)

// Code is a stable, machine-readable error code. The string values are part
// of the emitted artifacts; do not rename.
type Code string

const (
	CodeInvalidGraph           Code = "INVALID_GRAPH"
	CodeLockfileParse          Code = "LOCKFILE_PARSE_ERROR"
	CodeEnrichmentParse        Code = "ENRICHMENT_PARSE_ERROR"
	CodeChecksumConflict       Code = "CHECKSUM_CONFLICT"
	CodeDanglingEdge           Code = "DANGLING_EDGE"
	CodeMissingLocalDependency Code = "MISSING_LOCAL_DEPENDENCY"
	CodeMissingVendoredPackage Code = "MISSING_VENDORED_PACKAGE"
	CodePermissionDenied       Code = "PERMISSION_DENIED"
	CodeChecksumMismatch       Code = "CHECKSUM_MISMATCH"
	CodeCommitMismatch         Code = "COMMIT_MISMATCH"
	CodeEpochInvalidated       Code = "EPOCH_INVALIDATED"
	CodeConfigurationInvalid   Code = "CONFIGURATION_INVALID"
	CodeOfflineViolation       Code = "OFFLINE_VIOLATION"
	CodeToolTimeout            Code = "TOOL_TIMEOUT"
)

var codeCategories = map[Code]ErrorCategory{
	CodeInvalidGraph:           CategoryIdentity,
	CodeLockfileParse:          CategoryParse,
	CodeEnrichmentParse:        CategoryParse,
	CodeChecksumConflict:       CategoryIdentity,
	CodeDanglingEdge:           CategoryIdentity,
	CodeMissingLocalDependency: CategoryFilesystem,
	CodeMissingVendoredPackage: CategoryFilesystem,
	CodePermissionDenied:       CategoryFilesystem,
	CodeChecksumMismatch:       CategoryIntegrity,
	CodeCommitMismatch:         CategoryIntegrity,
	CodeEpochInvalidated:       CategoryIntegrity,
	CodeConfigurationInvalid:   CategoryConfiguration,
	CodeOfflineViolation:       CategoryBoundary,
	CodeToolTimeout:            CategoryBoundary,
}

// Category returns the category the code belongs to.
func (c Code) Category() ErrorCategory { return codeCategories[c] }

// Error is the structured error carried by every lockwarden operation.
//
// Context holds the facts needed to act on the error without re-running:
// offending path, identity, expected and actual values.
type Error struct {
	Kind    error
	Code    Code
	Message string
	Context map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteByte(')')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Category returns the category derived from the error's code.
func (e *Error) Category() ErrorCategory { return e.Code.Category() }

// Errorf builds an *Error with a formatted message.
func Errorf(kind error, code Code, ctx map[string]string, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Context: ctx}
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Cause = cause
	return &out
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CategoryOf returns the category of the first *Error in err's chain, or "".
func CategoryOf(err error) ErrorCategory {
	return CodeOf(err).Category()
}
