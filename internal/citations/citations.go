// Package citations collects source attributions from the differently
// shaped places they appear in a Messages API stream.
package citations

import (
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-claudebridge/internal/types"
)

// Origin names the event shape a citation was observed in.
type Origin string

const (
	OriginBlockStart   Origin = "content_block_start"
	OriginDelta        Origin = "citations_delta"
	OriginMessageDelta Origin = "message_delta"
	OriginMessageStart Origin = "message_start"
	OriginBlockStop    Origin = "content_block_stop"
	OriginResponse     Origin = "response"
)

// Citation is an immutable source attribution.
type Citation struct {
	URL            string
	Title          string
	CitedText      string
	EncryptedIndex string
	Origin         Origin
}

// FromWire converts a wire citation.
func FromWire(c types.Citation, origin Origin) Citation {
	return Citation{
		URL:            c.URL,
		Title:          c.Title,
		CitedText:      c.CitedText,
		EncryptedIndex: c.EncryptedIndex,
		Origin:         origin,
	}
}

// FromBlock returns the citations of a text block. Other block kinds carry
// none.
func FromBlock(b types.ContentBlock, origin Origin) []Citation {
	if b.Type != "text" || len(b.Citations) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(b.Citations))
	for _, c := range b.Citations {
		out = append(out, FromWire(c, origin))
	}
	return out
}

// FromBlocks flattens FromBlock over blocks.
func FromBlocks(blocks []types.ContentBlock, origin Origin) []Citation {
	var out []Citation
	for _, b := range blocks {
		out = append(out, FromBlock(b, origin)...)
	}
	return out
}

// Sweep re-scans retained stream records for citations that live
// extraction does not see: complete text blocks inside message_start and
// content_block_stop. Order follows the history.
func Sweep(history []json.RawMessage) []Citation {
	var out []Citation
	for _, raw := range history {
		rec := gjson.ParseBytes(raw)
		switch rec.Get("type").String() {
		case "message_start":
			rec.Get("message.content").ForEach(func(_, block gjson.Result) bool {
				out = append(out, fromResult(block, OriginMessageStart)...)
				return true
			})
		case "content_block_stop":
			if block := rec.Get("content_block"); block.Exists() {
				out = append(out, fromResult(block, OriginBlockStop)...)
			}
		}
	}
	if len(out) > 0 {
		slog.Debug("citations.sweep", "records", len(history), "found", len(out))
	}
	return out
}

func fromResult(block gjson.Result, origin Origin) []Citation {
	if block.Get("type").String() != "text" {
		return nil
	}
	var out []Citation
	block.Get("citations").ForEach(func(_, c gjson.Result) bool {
		out = append(out, Citation{
			URL:            c.Get("url").String(),
			Title:          c.Get("title").String(),
			CitedText:      c.Get("cited_text").String(),
			EncryptedIndex: c.Get("encrypted_index").String(),
			Origin:         origin,
		})
		return true
	})
	return out
}

// Dedupe keeps the first citation for each (url, excerpt) pair.
func Dedupe(in []Citation) []Citation {
	type key struct{ url, text string }
	seen := make(map[key]struct{}, len(in))
	out := make([]Citation, 0, len(in))
	for _, c := range in {
		k := key{c.URL, c.CitedText}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Excerpt truncates text to n characters plus an ellipsis.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos] + "..."
		}
		i++
	}
	return text
}
