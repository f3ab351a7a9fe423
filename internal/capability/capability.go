// Package capability decides which optional protocol extensions a request
// opts into. The result is sent upstream as the anthropic-beta header.
package capability

import (
	"strings"

	"github.com/n0madic/go-claudebridge/internal/config"
)

// Extension identifiers understood by the Messages API.
const (
	PromptCaching       = "prompt-caching-2024-07-31"
	ExtendedCacheTTL    = "extended-cache-ttl-2025-04-11"
	WebSearch           = "web-search-2025-03-05"
	CodeExecution       = "code-execution-2025-08-25"
	Skills              = "skills-2025-10-02"
	FilesAPI            = "files-api-2025-04-14"
	InterleavedThinking = "interleaved-thinking-2025-05-14"
)

// Negotiate returns the ordered extension ids for one request. The order is
// deterministic: caching, search, the execution group, then interleaved
// reasoning. A nil opts yields an empty list.
func Negotiate(opts *config.Options, prefs config.Preferences) []string {
	if opts == nil {
		return nil
	}

	var ids []string
	if opts.EnablePromptCaching {
		ids = append(ids, PromptCaching)
		if opts.CacheTTL == config.CacheTTL1Hour {
			ids = append(ids, ExtendedCacheTTL)
		}
	}
	if WebSearchEligible(opts, prefs) {
		ids = append(ids, WebSearch)
	}
	if CodeExecutionEligible(opts, prefs) {
		ids = append(ids, CodeExecution, Skills, FilesAPI)
	}

	// Interleaved reasoning only matters once some tool extension is present.
	if opts.EnableExtendedThinking && hasToolExtension(ids) {
		ids = append(ids, InterleavedThinking)
	}
	return ids
}

// Header joins ids into the anthropic-beta header value.
func Header(ids []string) string {
	return strings.Join(ids, ",")
}

// WebSearchEligible reports whether both the admin option and the caller's
// preference allow web search.
func WebSearchEligible(opts *config.Options, prefs config.Preferences) bool {
	return opts != nil && opts.EnableWebSearch && prefs.EnableWebSearch
}

// CodeExecutionEligible reports whether the execution group can be offered:
// the caller and the admin allow it, and either a bundle is selected or raw
// execution is permitted.
func CodeExecutionEligible(opts *config.Options, prefs config.Preferences) bool {
	if opts == nil || !prefs.EnableCodeExecution || !opts.EnableCodeExecution {
		return false
	}
	return HasBundles(opts) || opts.AllowRawCodeExecution
}

// HasBundles reports whether any skill bundle is selected.
func HasBundles(opts *config.Options) bool {
	return opts.EnableSkillXLSX || opts.EnableSkillPPTX || opts.EnableSkillDOCX ||
		opts.EnableSkillPDF || len(opts.SkillIDs()) > 0
}

func hasToolExtension(ids []string) bool {
	for _, id := range ids {
		if id == WebSearch || id == CodeExecution {
			return true
		}
	}
	return false
}
