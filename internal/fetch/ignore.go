package fetch

import (
	"net/url"
	"path"
	"strings"
)

// ignored reports whether the path of u matches one of patterns.
func ignored(u *url.URL, patterns []string) bool {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	for _, pattern := range patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//   - a trailing /* to match everything below a directory
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard" and "/admin/users/1"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1"
func matchPattern(pattern, p string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if strings.HasPrefix(p, prefix+"/") || p == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(p, pattern[1:]) {
		return true
	}

	if matched, err := path.Match(pattern, p); err == nil && matched {
		return true
	}

	// Patterns without a slash also match the last path segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := path.Match(pattern, path.Base(p)); err == nil && matched {
			return true
		}
	}
	return false
}
