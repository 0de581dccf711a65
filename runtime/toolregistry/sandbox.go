package toolregistry

import (
	"path/filepath"
	"strings"
)

// PathEscapeSentinel is substituted for any path-argument value that would
// resolve outside the principal's sandbox root. Handlers observe this
// value and refuse rather than operate on it; resolvePath never raises.
const PathEscapeSentinel = "<sandbox-denied>"

// pathArgKeys are the well-known argument keys rewritten through the
// sandbox policy before a tool handler sees them (§4.3).
var pathArgKeys = map[string]struct{}{
	"path":      {},
	"file":      {},
	"directory": {},
	"dir":       {},
	"cwd":       {},
	"workdir":   {},
}

// ResolvePath joins root and candidate, cleans the result, and returns it
// only if it is exactly root or has root as a path-separator-terminated
// prefix — closing the trailing-separator ambiguity where "/sandbox-evil"
// would otherwise appear to be prefixed by "/sandbox" without the
// separator check. Escaping candidates return PathEscapeSentinel, never an
// error.
func ResolvePath(root, candidate string) string {
	if root == "" {
		return PathEscapeSentinel
	}
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, candidate)
	resolved := filepath.Clean(joined)

	if resolved == cleanRoot {
		return resolved
	}
	prefix := cleanRoot + string(filepath.Separator)
	if strings.HasPrefix(resolved, prefix) {
		return resolved
	}
	return PathEscapeSentinel
}

// rewriteScopedPaths rewrites every well-known path key present in args
// through ResolvePath, returning a new map (the input is never mutated).
func rewriteScopedPaths(args map[string]any, root string) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if _, isPathKey := pathArgKeys[k]; isPathKey {
			if s, ok := v.(string); ok {
				out[k] = ResolvePath(root, s)
				continue
			}
		}
		out[k] = v
	}
	return out
}
