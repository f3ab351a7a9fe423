package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0madic/go-claudebridge/internal/citations"
)

func sse(records ...string) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString("data: ")
		b.WriteString(r)
		b.WriteString("\n\n")
	}
	return b.String()
}

// run feeds every event and returns the emitted text fragments and signals.
func run(t *testing.T, r *Reconstructor, body string) ([]string, []Signal, error) {
	t.Helper()
	var texts []string
	var signals []Signal
	for ev, err := range Events(NewReader(strings.NewReader(body))) {
		if err != nil {
			return texts, signals, err
		}
		step, err := r.Feed(ev)
		if err != nil {
			return texts, signals, err
		}
		if step.Text != "" {
			texts = append(texts, step.Text)
		}
		if step.Signal != SignalNone {
			signals = append(signals, step.Signal)
		}
	}
	return texts, signals, nil
}

func TestReasoningThenText(t *testing.T) {
	body := sse(
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"a"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"b"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"h"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"i"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_stop"}`,
	)
	r := NewReconstructor()
	texts, signals, err := run(t, r, body)
	require.NoError(t, err)

	s := r.State()
	assert.Equal(t, "ab", s.Reasoning.String())
	assert.Equal(t, "hi", s.Text.String())
	assert.Equal(t, ReasoningCompleted, s.Phase)
	assert.Equal(t, []string{"h", "i"}, texts)
	assert.Equal(t, []Signal{SignalThinkingStarted, SignalThinkingCompleted}, signals)
	assert.Equal(t, "msg_1", s.MessageID)
}

func TestTextEmittedBeforeMessageStop(t *testing.T) {
	r := NewReconstructor()
	events := []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
	}
	var emitted string
	for ev := range Events(NewReader(strings.NewReader(sse(events...)))) {
		step, err := r.Feed(ev)
		require.NoError(t, err)
		emitted += step.Text
	}
	assert.Equal(t, "hi", emitted, "text must be available before message_stop arrives")
}

func TestMessageStopCompletesReasoning(t *testing.T) {
	r := NewReconstructor()
	_, signals, err := run(t, r, sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"only thoughts"}}`,
		`{"type":"message_stop"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, ReasoningCompleted, r.State().Phase)
	assert.Equal(t, []Signal{SignalThinkingStarted, SignalThinkingCompleted}, signals)
}

func TestToolInputPartialParse(t *testing.T) {
	r := NewReconstructor()
	feed := func(raw string) {
		t.Helper()
		ev, err := Decode(&Record{Type: gjsonType(raw), Raw: []byte(raw)})
		require.NoError(t, err)
		_, err = r.Feed(ev)
		require.NoError(t, err)
	}

	feed(`{"type":"content_block_start","index":1,"content_block":{"type":"server_tool_use","id":"srvtoolu_1","name":"web_search","input":{}}}`)
	require.NotNil(t, r.State().Current)
	assert.Equal(t, "", r.State().Current.Query)

	feed(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"que"}}`)
	assert.Equal(t, "", r.State().Current.Query, "query must not change on an incomplete buffer")

	feed(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"ry\":\"go\"}"}`)
	assert.Equal(t, "go", r.State().Current.Query)
}

func TestWebSearchLifecycle(t *testing.T) {
	body := sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"server_tool_use","id":"s1","name":"web_search","input":{"query":"golang iterators"}}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"web_search_tool_result","tool_use_id":"s1","content":[` +
			`{"type":"web_search_result","title":"Range over func","url":"https://go.dev/blog/range-functions","page_age":"2024-08-20","encrypted_content":"xx"},` +
			`{"type":"web_search_result","title":"Docs","url":"https://go.dev/doc"}]}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":40,"server_tool_use":{"web_search_requests":1}}}`,
	)
	r := NewReconstructor()
	_, signals, err := run(t, r, body)
	require.NoError(t, err)

	s := r.State()
	assert.Nil(t, s.Current)
	require.Len(t, s.Searches, 1)
	assert.Equal(t, "golang iterators", s.Searches[0].Query)
	require.Len(t, s.Searches[0].Results, 2)
	assert.Equal(t, "2024-08-20", s.Searches[0].Results[0].PageAge)
	assert.Equal(t, []Signal{SignalSearchStarted, SignalSearchComplete}, signals)
	assert.Equal(t, int64(1), s.Usage.WebSearchRequests())
	assert.Equal(t, "end_turn", s.StopReason)
	assert.Len(t, s.SearchResults(), 2)
}

func TestSearchErrorContentYieldsNoResults(t *testing.T) {
	r := NewReconstructor()
	_, _, err := run(t, r, sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"server_tool_use","id":"s1","name":"web_search","input":{"query":"q"}}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"web_search_tool_result","content":{"type":"web_search_tool_result_error","error_code":"max_uses_exceeded"}}}`,
		`{"type":"content_block_stop","index":1}`,
	))
	require.NoError(t, err)
	require.Len(t, r.State().Searches, 1)
	assert.Empty(t, r.State().Searches[0].Results)
}

func TestUsageOverwrittenNotSummed(t *testing.T) {
	r := NewReconstructor()
	_, _, err := run(t, r, sse(
		`{"type":"message_start","message":{"id":"m","usage":{"input_tokens":100,"output_tokens":1,"cache_read_input_tokens":50}}}`,
		`{"type":"message_delta","delta":{},"usage":{"output_tokens":20}}`,
		`{"type":"message_delta","delta":{},"usage":{"output_tokens":35}}`,
	))
	require.NoError(t, err)
	u := r.State().Usage
	assert.Equal(t, int64(100), u.InputTokens)
	assert.Equal(t, int64(35), u.OutputTokens)
	assert.Equal(t, int64(50), u.CacheReadInputTokens)
	assert.True(t, r.State().HasUsage)
}

func TestCitationsFromDifferentShapesKept(t *testing.T) {
	body := sse(
		`{"type":"message_start","message":{"id":"m","content":[{"type":"text","text":"x","citations":[{"url":"https://a.example","title":"A","cited_text":"same"}]}]}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"citations_delta","citation":{"type":"web_search_result_location","url":"https://a.example","title":"A","cited_text":"same"}}}`,
		`{"type":"content_block_stop","index":0}`,
	)
	r := NewReconstructor()
	_, _, err := run(t, r, body)
	require.NoError(t, err)

	got := r.Finish()
	require.Len(t, got, 2)
	assert.Equal(t, citations.OriginDelta, got[0].Origin, "live citations come first")
	assert.Equal(t, citations.OriginMessageStart, got[1].Origin)
	assert.Equal(t, got[0].URL, got[1].URL)
}

func TestCitationsDedupeOption(t *testing.T) {
	body := sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":"","citations":[{"url":"https://a.example","title":"A","cited_text":"same"}]}}`,
		`{"type":"content_block_stop","index":0,"content_block":{"type":"text","text":"x","citations":[{"url":"https://a.example","title":"A","cited_text":"same"},{"url":"https://b.example","title":"B","cited_text":"other"}]}}`,
		`{"type":"message_delta","delta":{"content":[{"type":"text","citations":[{"url":"https://c.example","title":"C","cited_text":"c"}]}]}}`,
	)
	r := NewReconstructor()
	r.Dedupe = true
	_, _, err := run(t, r, body)
	require.NoError(t, err)

	got := r.Finish()
	urls := make([]string, 0, len(got))
	for _, c := range got {
		urls = append(urls, c.URL)
	}
	assert.Equal(t, []string{"https://a.example", "https://c.example", "https://b.example"}, urls)
	assert.Equal(t, got, r.Finish(), "Finish is idempotent")
}

func TestErrorEventEndsReconstruction(t *testing.T) {
	r := NewReconstructor()
	texts, _, err := run(t, r, sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	))
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, "overloaded_error", serverErr.Type)
	assert.Equal(t, []string{"partial"}, texts)
}

func TestMalformedAndUnknownRecordsSkipped(t *testing.T) {
	body := "data: {broken\n\n" + sse(
		`{"type":"ping"}`,
		`{"type":"something_new","payload":1}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`,
	)
	r := NewReconstructor()
	texts, _, err := run(t, r, body)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, texts)
	assert.Len(t, r.State().History, 4)
}

func TestFinishKeepsUnfinishedSearch(t *testing.T) {
	r := NewReconstructor()
	_, _, err := run(t, r, sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"server_tool_use","name":"web_search","input":{"query":"dangling"}}}`,
	))
	require.NoError(t, err)
	r.Finish()
	require.Len(t, r.State().Searches, 1)
	assert.Equal(t, "dangling", r.State().Searches[0].Query)
}

func TestNonSearchToolIgnored(t *testing.T) {
	r := NewReconstructor()
	_, signals, err := run(t, r, sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"server_tool_use","name":"code_execution","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"code\":\"print(1)\"}"}}`,
	))
	require.NoError(t, err)
	assert.Nil(t, r.State().Current)
	assert.Empty(t, signals)
}

func gjsonType(raw string) string {
	rec, _ := NewReader(strings.NewReader("data: " + raw + "\n")).Next()
	return rec.Type
}
