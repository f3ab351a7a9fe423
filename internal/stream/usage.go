package stream

import "github.com/n0madic/go-claudebridge/internal/types"

// UsageDelta is a usage object as it appears on the wire. Absent counters
// stay nil so a merge only touches what the record actually carried.
type UsageDelta struct {
	InputTokens              *int64                 `json:"input_tokens"`
	OutputTokens             *int64                 `json:"output_tokens"`
	CacheCreationInputTokens *int64                 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int64                 `json:"cache_read_input_tokens"`
	ThinkingTokens           *int64                 `json:"thinking_tokens"`
	ServerToolUse            *types.ServerToolUsage `json:"server_tool_use"`
}

// MergeUsage overwrites the counters present in d. Values are cumulative
// upstream, so they replace rather than add.
func MergeUsage(dst *types.AnthropicUsage, d *UsageDelta) {
	if dst == nil || d == nil {
		return
	}
	set := func(dst *int64, v *int64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&dst.InputTokens, d.InputTokens)
	set(&dst.OutputTokens, d.OutputTokens)
	set(&dst.CacheCreationInputTokens, d.CacheCreationInputTokens)
	set(&dst.CacheReadInputTokens, d.CacheReadInputTokens)
	set(&dst.ThinkingTokens, d.ThinkingTokens)
	if d.ServerToolUse != nil {
		stu := *d.ServerToolUse
		dst.ServerToolUse = &stu
	}
}
