// Package tmdl parses and serializes tabular model definition documents:
// line-oriented, tab-indented files declaring tables with measures, columns,
// hierarchies and partitions, plus model relationships.
//
// The package is built around round-trip fidelity. A Document keeps every raw
// input line; serializing an unmodified Document reproduces the input byte for
// byte, and mutating measures rewrites only the measure span of the affected
// table. Expressions are opaque text: never evaluated, never normalized.
package tmdl
