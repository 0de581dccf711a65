package toolregistry

import "strings"

// freeTools is the closed set of tools available to the free tier. Free
// never sees external tools, namespaced or otherwise.
var freeTools = map[string]struct{}{
	"web_search":    {},
	"vision_ocr":    {},
	"analyze_image": {},
}

// proExtraTools augments the free set for pro. Exact-name entries; the
// "firecrawl_*" prefix is handled separately via wildcard matching.
var proExtraTools = map[string]struct{}{
	"run_command":         {},
	"sequential_thinking": {},
}

const proWildcardPrefix = "firecrawl_"

// allowed reports whether name is permitted for tier, per §4.3:
//   - free: exactly {web_search, vision_ocr, analyze_image}, never external.
//   - pro: free set + {run_command, sequential_thinking} + firecrawl_* +
//     all external tools (no narrowing rule defined here).
//   - enterprise: everything.
func allowed(tier Tier, name string) bool {
	external := strings.Contains(name, Separator)

	switch tier {
	case TierEnterprise:
		return true
	case TierPro:
		if external {
			return true
		}
		if _, ok := freeTools[name]; ok {
			return true
		}
		if _, ok := proExtraTools[name]; ok {
			return true
		}
		return strings.HasPrefix(name, proWildcardPrefix)
	case TierFree:
		if external {
			return false
		}
		_, ok := freeTools[name]
		return ok
	default:
		return false
	}
}
