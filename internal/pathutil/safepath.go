// Package pathutil holds small checks for '/'-separated object key paths.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSingleSegment reports whether p is a non-empty name with no separators
// and is not a dot segment.
func IsSingleSegment(p string) bool {
	if p == "" || strings.ContainsAny(p, `/\`) {
		return false
	}
	return !HasDotSegments(p)
}

// FolderKey normalizes a folder name to a marker key ending in exactly one
// '/', with any leading '/' stripped. Returns "" for names that are empty or
// contain dot segments.
func FolderKey(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" || HasDotSegments(p) || strings.Contains(p, "//") {
		return ""
	}
	return p + "/"
}
