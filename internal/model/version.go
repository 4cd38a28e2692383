package model

import (
	"strconv"
	"strings"
)

// Artifact format versions. A consumer accepts a file only when its
// major component matches the current major.
const (
	SchemaVersion      = "1.2.0"
	CalculationVersion = "1.1.0"
	RankingVersion     = "1.0.0"
)

// FileVersions is the version triple stamped on snapshot artifacts.
type FileVersions struct {
	Schema      string `json:"schemaVersion"`
	Calculation string `json:"calculationVersion"`
	Ranking     string `json:"rankingVersion"`
}

// CurrentVersions returns the versions written on new artifacts.
func CurrentVersions() FileVersions {
	return FileVersions{
		Schema:      SchemaVersion,
		Calculation: CalculationVersion,
		Ranking:     RankingVersion,
	}
}

// Compatible reports whether two version triples agree on every major
// component.
func (v FileVersions) Compatible(other FileVersions) bool {
	return major(v.Schema) == major(other.Schema) &&
		major(v.Calculation) == major(other.Calculation) &&
		major(v.Ranking) == major(other.Ranking)
}

// MajorMatches reports whether a single semantic version shares the
// current schema major. Used by analytics and index readers.
func MajorMatches(version string) bool {
	return major(version) == major(SchemaVersion)
}

func major(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return n
}
