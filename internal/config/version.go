package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the latest config schema version
const CurrentSchemaVersion = "1.0"

// SchemaVersion represents a semantic version for config schemas
type SchemaVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a version string like "1.0".
// An empty string is treated as the current version.
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return ParseVersion(CurrentSchemaVersion)
	}

	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SchemaVersion{}, fmt.Errorf("invalid version format: %s (expected X.Y)", s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid major version: %s", parts[0])
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid minor version: %s", parts[1])
	}

	return SchemaVersion{Major: major, Minor: minor}, nil
}

// String returns the version as "X.Y"
func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsSupportedVersion checks if we have a reader for this version.
// Minor bumps are backward compatible, major bumps are not.
func IsSupportedVersion(v SchemaVersion) bool {
	current, _ := ParseVersion(CurrentSchemaVersion)
	return v.Major == current.Major && v.Minor <= current.Minor
}
