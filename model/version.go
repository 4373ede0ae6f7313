package model

import (
	"fmt"
	"strconv"
	"strings"
)

// A Version identifies an installed database schema: a major schema and the number of patches applied on top.
type Version struct {
	Major int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Patch)
}

// Before reports whether v is older than v2.
func (v Version) Before(v2 Version) bool {
	if v.Major != v2.Major {
		return v.Major < v2.Major
	}
	return v.Patch < v2.Patch
}

// ParseVersion parses a version written as major.patch.
func ParseVersion(s string) (Version, error) {
	major, patch, ok := strings.Cut(s, ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q: expected major.patch", s)
	}
	var v Version
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil {
		return Version{}, fmt.Errorf("invalid major version: %w", err)
	}
	if v.Patch, err = strconv.Atoi(patch); err != nil {
		return Version{}, fmt.Errorf("invalid patch version: %w", err)
	}
	return v, nil
}
