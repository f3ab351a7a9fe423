package types

import (
	"encoding/json"
	"testing"
)

func TestMessageBlocks(t *testing.T) {
	msg := Message{Role: "user", Content: json.RawMessage(`"hello"`)}
	if msg.IsStructured() {
		t.Fatal("string content must not be structured")
	}
	blocks, err := msg.Blocks()
	if err != nil {
		t.Fatalf("Blocks returned error: %v", err)
	}
	if len(blocks) != 1 || string(blocks[0]) != `{"type":"text","text":"hello"}` {
		t.Fatalf("unexpected blocks: %s", blocks)
	}

	msg = Message{
		Role:    "user",
		Content: json.RawMessage(` [{"type":"image","source":{"type":"url","url":"https://x"}},{"type":"text","text":"hi"}]`),
	}
	if !msg.IsStructured() {
		t.Fatal("array content must be structured")
	}
	blocks, err = msg.Blocks()
	if err != nil {
		t.Fatalf("Blocks returned error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}

	msg = Message{Role: "user", Content: json.RawMessage(`42`)}
	if _, err := msg.Blocks(); err == nil {
		t.Fatal("expected error for numeric content")
	}
}

func TestUsageWebSearchRequests(t *testing.T) {
	var u *AnthropicUsage
	if u.WebSearchRequests() != 0 {
		t.Fatal("nil usage should report zero")
	}
	u = &AnthropicUsage{ServerToolUse: &ServerToolUsage{WebSearchRequests: 3}}
	if u.WebSearchRequests() != 3 {
		t.Fatalf("got %d, want 3", u.WebSearchRequests())
	}
}

func TestMessageResponseDecode(t *testing.T) {
	raw := `{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[
		{"type":"thinking","thinking":"hmm","signature":"sig"},
		{"type":"text","text":"Answer","citations":[{"type":"web_search_result_location","url":"https://a","title":"A","cited_text":"quote","encrypted_index":"e1"}]}
	],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":90,"server_tool_use":{"web_search_requests":1}}}`
	var resp MessageResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Content) != 2 || resp.Content[0].Thinking != "hmm" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
	if c := resp.Content[1].Citations; len(c) != 1 || c[0].CitedText != "quote" || c[0].EncryptedIndex != "e1" {
		t.Fatalf("unexpected citations: %+v", c)
	}
	if resp.Usage.CacheReadInputTokens != 90 || resp.Usage.WebSearchRequests() != 1 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}
