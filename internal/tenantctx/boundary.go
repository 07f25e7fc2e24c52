package tenantctx

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/changeops/internal/errs"
)

// Boundary scopes filesystem operations for one module execution context
// to moduleRootPath, per the module-boundary contract in C1. A requested
// path is rejected if it is absolute, escapes the root via ".." segments
// after normalization, or does not resolve under the root.
type Boundary struct {
	RootPath string
	// Allow is an optional set of doublestar glob patterns (relative to
	// RootPath) further restricting which paths are reachable even within
	// the boundary — e.g. an override's targetRef scoping, or a module
	// declaring it only touches "workflows/**" and "forms/**".
	Allow []string
}

// NewBoundary builds a Boundary rooted at root with no further glob
// restriction.
func NewBoundary(root string) Boundary {
	return Boundary{RootPath: path.Clean(root)}
}

// WithAllow returns a copy of b restricted to the given glob patterns.
func (b Boundary) WithAllow(patterns ...string) Boundary {
	b.Allow = patterns
	return b
}

// Validate checks requestedPath against the boundary and returns the
// resolved path relative to RootPath, or a MODULE_BOUNDARY_ESCAPE error.
func (b Boundary) Validate(requestedPath string) (string, error) {
	if path.IsAbs(requestedPath) {
		return "", errs.Newf(errs.CodeModuleBoundaryEscape, "absolute path not allowed: %s", requestedPath)
	}

	for _, seg := range strings.Split(requestedPath, "/") {
		if seg == ".." {
			return "", errs.Newf(errs.CodeModuleBoundaryEscape, "path contains .. segment: %s", requestedPath)
		}
	}

	// requestedPath is already relative and free of ".." segments, so
	// path.Clean resolves it to the path under RootPath without the
	// prefix-matching that path.Join(".", x) quietly breaks (Join strips
	// a root of "." entirely, leaving nothing to match a "./" prefix
	// against).
	rel := path.Clean(requestedPath)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errs.Newf(errs.CodeModuleBoundaryEscape, "path %s escapes module root %s", requestedPath, b.RootPath)
	}

	if len(b.Allow) > 0 && !b.matchesAllow(rel) {
		return "", errs.Newf(errs.CodeModuleBoundaryEscape, "path %s is not covered by any allowed pattern", requestedPath)
	}

	return rel, nil
}

func (b Boundary) matchesAllow(rel string) bool {
	for _, pattern := range b.Allow {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
