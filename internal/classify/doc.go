// Package classify assigns trust classifications to graph nodes.
//
// Classification is an ordered rule evaluation with no I/O and no scoring.
// The first rule that applies wins:
//  1. an explicit override by exact package name
//  2. build-role usage (build scripts, proc macros, build dependencies)
//  3. the configured pattern list, in configured order
//  4. otherwise Mechanical with no signals
//
// Every Tcs result carries the signals that produced it.
package classify
