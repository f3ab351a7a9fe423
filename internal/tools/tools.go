// Package tools builds the server-side tool descriptors offered upstream.
package tools

import (
	"encoding/json"

	"github.com/n0madic/go-claudebridge/internal/capability"
	"github.com/n0madic/go-claudebridge/internal/config"
)

const (
	WebSearchType     = "web_search_20250305"
	WebSearchName     = "web_search"
	CodeExecutionType = "code_execution_20250825"
	CodeExecutionName = "code_execution"

	MinSearchUses = 1
	MaxSearchUses = 20
)

// Built-in skill bundle ids, in the order they are offered.
const (
	SkillXLSX = "xlsx"
	SkillPPTX = "pptx"
	SkillDOCX = "docx"
	SkillPDF  = "pdf"
)

// Descriptor is a server tool definition. The set of implementations is
// closed: WebSearch and CodeExecution.
type Descriptor interface {
	json.Marshaler
	ToolName() string
	descriptor()
}

// WebSearch is the server-side web search tool.
type WebSearch struct {
	MaxUses        int
	AllowedDomains []string
	BlockedDomains []string
}

func (WebSearch) ToolName() string { return WebSearchName }
func (WebSearch) descriptor()      {}

// MarshalJSON emits at most one of the domain filters, the allow-list
// taking precedence.
func (w WebSearch) MarshalJSON() ([]byte, error) {
	out := struct {
		Type           string   `json:"type"`
		Name           string   `json:"name"`
		MaxUses        int      `json:"max_uses"`
		AllowedDomains []string `json:"allowed_domains,omitempty"`
		BlockedDomains []string `json:"blocked_domains,omitempty"`
	}{
		Type:    WebSearchType,
		Name:    WebSearchName,
		MaxUses: ClampSearchUses(w.MaxUses),
	}
	if len(w.AllowedDomains) > 0 {
		out.AllowedDomains = w.AllowedDomains
	} else if len(w.BlockedDomains) > 0 {
		out.BlockedDomains = w.BlockedDomains
	}
	return json.Marshal(out)
}

// CodeExecution is the sandboxed execution tool with optional skill bundles.
type CodeExecution struct {
	SkillIDs []string
}

func (CodeExecution) ToolName() string { return CodeExecutionName }
func (CodeExecution) descriptor()      {}

type container struct {
	SkillIDs []string `json:"skill_ids"`
}

func (c CodeExecution) MarshalJSON() ([]byte, error) {
	out := struct {
		Type      string     `json:"type"`
		Name      string     `json:"name"`
		Container *container `json:"container,omitempty"`
	}{
		Type: CodeExecutionType,
		Name: CodeExecutionName,
	}
	if len(c.SkillIDs) > 0 {
		out.Container = &container{SkillIDs: c.SkillIDs}
	}
	return json.Marshal(out)
}

// Configure returns the descriptors for a request. It applies the same
// eligibility rules as capability.Negotiate.
func Configure(opts *config.Options, prefs config.Preferences) []Descriptor {
	if opts == nil {
		return nil
	}
	var out []Descriptor
	if capability.WebSearchEligible(opts, prefs) {
		ws := WebSearch{MaxUses: ClampSearchUses(opts.WebSearchMaxUses)}
		if allowed := opts.AllowedDomains(); len(allowed) > 0 {
			ws.AllowedDomains = allowed
		} else {
			ws.BlockedDomains = opts.BlockedDomains()
		}
		out = append(out, ws)
	}
	if capability.CodeExecutionEligible(opts, prefs) {
		out = append(out, CodeExecution{SkillIDs: SkillIDs(opts)})
	}
	return out
}

// SkillIDs lists the selected bundles: built-ins in fixed order, then the
// custom ids in the order given.
func SkillIDs(opts *config.Options) []string {
	var ids []string
	if opts.EnableSkillXLSX {
		ids = append(ids, SkillXLSX)
	}
	if opts.EnableSkillPPTX {
		ids = append(ids, SkillPPTX)
	}
	if opts.EnableSkillDOCX {
		ids = append(ids, SkillDOCX)
	}
	if opts.EnableSkillPDF {
		ids = append(ids, SkillPDF)
	}
	return append(ids, opts.SkillIDs()...)
}

// ClampSearchUses bounds n to [MinSearchUses, MaxSearchUses].
func ClampSearchUses(n int) int {
	return min(max(n, MinSearchUses), MaxSearchUses)
}
