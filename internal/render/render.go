// Package render turns reconstructed output into the markdown the chat
// client displays: collapsible reasoning and search sections, citation
// cards, the usage summary and error trailers.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/n0madic/go-claudebridge/internal/citations"
	"github.com/n0madic/go-claudebridge/internal/stream"
	"github.com/n0madic/go-claudebridge/internal/types"
)

// ExcerptLength is the cited-text length shown on cards and notifications.
const ExcerptLength = 150

// sampleLength bounds the raw event sample in the missing-citations report.
const sampleLength = 1000

// Status lines published through the notification sink.
const (
	StatusConnecting     = "🚀 Connecting to Claude..."
	StatusConnected      = "✅ Connected"
	StatusThinking       = "🧠 Thinking..."
	StatusSearchComplete = "✅ Search complete"
	StatusComplete       = "✅ Complete"
)

// NoResponse is the non-streaming document when nothing was produced.
const NoResponse = "No response generated"

var printer = message.NewPrinter(language.English)

// Thousands formats n with comma group separators.
func Thousands(n int64) string {
	return printer.Sprintf("%d", n)
}

// ReasoningSection wraps the reasoning trace in a collapsed block.
func ReasoningSection(reasoning string) string {
	if reasoning == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n<details>\n")
	b.WriteString("<summary>🧠 Reasoning Process</summary>\n\n")
	b.WriteString("```\n")
	b.WriteString(reasoning)
	b.WriteString("\n```\n\n")
	b.WriteString("</details>\n\n")
	return b.String()
}

// SearchSection lists the searches of a response. Detailed output lists
// every result with its URL and page age; otherwise each search is one
// "Searched" line.
func SearchSection(searches []*stream.ToolInvocation, detailed bool) string {
	if len(searches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<details>\n")
	b.WriteString("<summary>🔍 Web Searches</summary>\n\n")
	for i, s := range searches {
		query := s.Query
		if query == "" {
			query = "(query not captured - check logs)"
		}
		if !detailed {
			fmt.Fprintf(&b, "🔍 **Searched:** %s\n", query)
			continue
		}
		fmt.Fprintf(&b, "**Search %d:** %s\n", i+1, query)
		if len(s.Results) > 0 {
			fmt.Fprintf(&b, "- Found %d results\n", len(s.Results))
			for j, r := range s.Results {
				fmt.Fprintf(&b, "  %d. %s\n", j+1, titleOr(r.Title, "Untitled"))
				if r.URL != "" {
					fmt.Fprintf(&b, "     🔗 %s\n", r.URL)
				}
				if r.PageAge != "" {
					fmt.Fprintf(&b, "     📅 %s\n", r.PageAge)
				}
			}
		}
		b.WriteString("\n")
	}
	if !detailed {
		b.WriteString("\n")
	}
	b.WriteString("</details>\n\n")
	return b.String()
}

// CitationCard renders one source; index is 1-based.
func CitationCard(c citations.Citation, index int) string {
	var b strings.Builder
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "📚 **Source [%d]: %s**\n", index, c.Title)
	fmt.Fprintf(&b, "🔗 %s\n", c.URL)
	if c.CitedText != "" {
		fmt.Fprintf(&b, "📝 \"%s\"\n", citations.Excerpt(c.CitedText, ExcerptLength))
	}
	b.WriteString("---\n")
	return b.String()
}

// CitationDocument is the notification text for a citation.
func CitationDocument(c citations.Citation) string {
	if c.CitedText == "" {
		return c.Title
	}
	return c.Title + ` - "` + citations.Excerpt(c.CitedText, ExcerptLength) + `"`
}

// SearchResultDocument is the notification text for a raw search result.
func SearchResultDocument(r types.WebSearchResult) string {
	doc := titleOr(r.Title, "Source")
	if r.PageAge != "" {
		doc += " (Last updated: " + r.PageAge + ")"
	}
	return doc
}

// UsageSummary renders the token accounting block.
func UsageSummary(u types.AnthropicUsage) string {
	var b strings.Builder
	b.WriteString("\n\n<details>\n")
	b.WriteString("<summary>📊 Token Usage</summary>\n\n")
	if u.CacheReadInputTokens > 0 {
		total := u.InputTokens + u.CacheReadInputTokens
		pct := float64(u.CacheReadInputTokens) / float64(total) * 100
		fmt.Fprintf(&b, "- 💾 **Cache Hit:** %s tokens (%.0f%% saved)\n", Thousands(u.CacheReadInputTokens), pct)
	}
	if u.CacheCreationInputTokens > 0 {
		fmt.Fprintf(&b, "- 📝 **Cached:** %s tokens\n", Thousands(u.CacheCreationInputTokens))
	}
	if u.ThinkingTokens > 0 {
		fmt.Fprintf(&b, "- 🧠 **Thinking:** %s tokens\n", Thousands(u.ThinkingTokens))
	}
	fmt.Fprintf(&b, "- 📥 **Input:** %s tokens\n", Thousands(u.InputTokens))
	fmt.Fprintf(&b, "- 📤 **Output:** %s tokens\n", Thousands(u.OutputTokens))
	if n := u.WebSearchRequests(); n > 0 {
		fmt.Fprintf(&b, "- 🔍 **Web Searches:** %d\n", n)
	}
	b.WriteString("\n</details>\n")
	return b.String()
}

// MissingCitationsReport explains, at debug level, where citations were
// looked for when none were found.
func MissingCitationsReport(history []json.RawMessage) string {
	textStarts := 0
	var withCitations []json.RawMessage
	for _, raw := range history {
		rec := gjson.ParseBytes(raw)
		if rec.Get("type").String() == "content_block_start" && rec.Get("content_block.type").String() == "text" {
			textStarts++
		}
		if strings.Contains(string(raw), "citations") {
			withCitations = append(withCitations, raw)
		}
	}

	var b strings.Builder
	b.WriteString("\n\n---\n**DEBUG**: No citations found. Checked:\n")
	fmt.Fprintf(&b, "- %d total events\n", len(history))
	fmt.Fprintf(&b, "- Text blocks in content_block_start: %d\n", textStarts)
	fmt.Fprintf(&b, "- Events with 'citations' key: %d\n", len(withCitations))
	if len(withCitations) > 0 {
		sample, err := json.MarshalIndent(json.RawMessage(withCitations[0]), "", "  ")
		if err != nil {
			sample = withCitations[0]
		}
		b.WriteString("\n**Sample citation event:**\n```json\n")
		b.WriteString(truncateRunes(string(sample), sampleLength))
		b.WriteString("\n```\n")
	}
	b.WriteString("---\n")
	return b.String()
}

// truncateRunes cuts s to at most n bytes without splitting a character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}
