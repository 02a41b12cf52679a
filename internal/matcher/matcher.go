// Package matcher selects the catalog entry that applies to a file.
//
// Patterns without a slash are matched against the file's base name: '*'
// matches any run of characters, '?' matches exactly one, everything else is
// literal. Patterns with a slash are matched against the whole path with
// doublestar semantics ("**" crosses directories); a pattern that is not
// anchored with "/" or "**/" may match at any directory depth.
package matcher

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"tomlkit-schema-service/internal/catalog"
)

// Match returns the first entry, in order, with a pattern matching filePath.
func Match(entries []catalog.Entry, filePath string) (catalog.Entry, bool) {
	full := filepath.ToSlash(filePath)
	base := path.Base(full)

	for _, e := range entries {
		for _, p := range e.FileMatch {
			if MatchPattern(p, full, base) {
				return e, true
			}
		}
	}
	return catalog.Entry{}, false
}

// MatchURL is Match returning only the schema URL.
func MatchURL(entries []catalog.Entry, filePath string) (string, bool) {
	e, ok := Match(entries, filePath)
	return e.URL, ok
}

// MatchPattern tests one pattern against a slash-separated path and its base name.
func MatchPattern(pattern, fullPath, baseName string) bool {
	if pattern == "" || strings.HasPrefix(pattern, "!") {
		return false
	}
	if !strings.Contains(pattern, "/") {
		return Glob(pattern, baseName)
	}

	rel := strings.TrimPrefix(fullPath, "/")
	if strings.HasPrefix(pattern, "/") {
		return matchPath(strings.TrimPrefix(pattern, "/"), rel)
	}
	if matchPath(pattern, rel) {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		return false
	}
	return matchPath("**/"+pattern, rel)
}

func matchPath(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Glob reports whether name matches pattern, where '*' matches any run of
// zero or more characters, '?' matches exactly one character and every other
// character matches itself.
func Glob(pattern, name string) bool {
	p := []rune(pattern)
	n := []rune(name)

	pi, ni := 0, 0
	star, mark := -1, 0
	for ni < len(n) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == n[ni]) && p[pi] != '*':
			pi++
			ni++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = ni
			pi++
		case star >= 0:
			// Let the last star absorb one more character and retry.
			pi = star + 1
			mark++
			ni = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
