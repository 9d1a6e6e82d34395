// Package toolrun invokes external auditing tools such as cargo-audit.
//
// Output is captured verbatim and returned unmodified. Every run is bounded by
// a timeout; a run that exceeds it yields a *TimeoutError and no partial
// output.
package toolrun
