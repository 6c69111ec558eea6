// Package transform maps raw source rows to connector-neutral entities.
package transform

import "strings"

// MetadataType is the closed set of metadata kinds with dedicated handlers.
type MetadataType int

const (
	Database MetadataType = iota
	Schema
	Table
	Column
	Procedure

	numTypes
)

var typeNames = [numTypes]string{
	Database:  "database",
	Schema:    "schema",
	Table:     "table",
	Column:    "column",
	Procedure: "procedure",
}

// String returns the lower-case type name used in file names and summaries.
func (t MetadataType) String() string {
	if t < 0 || t >= numTypes {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType resolves a type name case-insensitively.
func ParseType(name string) (MetadataType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range typeNames {
		if n == name {
			return MetadataType(i), true
		}
	}
	return 0, false
}

// AllTypes returns every MetadataType in extraction order.
func AllTypes() []MetadataType {
	out := make([]MetadataType, 0, numTypes)
	for t := MetadataType(0); t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}
