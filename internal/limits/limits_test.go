package limits

import (
	"net/http"
	"testing"
	"time"
)

func makeHeaders(pairs ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// TestParseHeadersWindows verifies that request and token windows are parsed.
func TestParseHeadersWindows(t *testing.T) {
	h := makeHeaders(
		"anthropic-ratelimit-requests-limit", "50",
		"anthropic-ratelimit-requests-remaining", "49",
		"anthropic-ratelimit-requests-reset", "2025-06-01T12:00:30Z",
		"anthropic-ratelimit-tokens-limit", "10000",
		"anthropic-ratelimit-tokens-remaining", "2500",
	)

	snap := ParseHeaders(h, base)
	if snap == nil {
		t.Fatal("expected non-nil snapshot")
	}
	if snap.Requests == nil || snap.Tokens == nil {
		t.Fatal("expected requests and tokens windows")
	}
	if snap.InputTokens != nil || snap.OutputTokens != nil {
		t.Errorf("unexpected input/output windows: %+v %+v", snap.InputTokens, snap.OutputTokens)
	}
	if *snap.Requests.Limit != 50 || *snap.Requests.Remaining != 49 {
		t.Errorf("requests window: %+v", snap.Requests)
	}
	if snap.Requests.Reset == nil || !snap.Requests.Reset.Equal(base.Add(30*time.Second)) {
		t.Errorf("requests reset: %v", snap.Requests.Reset)
	}
	if got := snap.Tokens.UsedPercent(); got != 75 {
		t.Errorf("tokens used percent: got %v, want 75", got)
	}
	if got := snap.String(); got != "requests=49/50 tokens=2500/10000" {
		t.Errorf("String() = %q", got)
	}
}

// TestParseHeadersNonePresent verifies that absent rate-limit headers return nil.
func TestParseHeadersNonePresent(t *testing.T) {
	if snap := ParseHeaders(makeHeaders("Content-Type", "application/json"), base); snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
	if snap := ParseHeaders(nil, base); snap != nil {
		t.Errorf("expected nil snapshot for nil headers, got %+v", snap)
	}
}

// TestParseHeadersInvalidValues verifies that malformed counters are ignored.
func TestParseHeadersInvalidValues(t *testing.T) {
	h := makeHeaders(
		"anthropic-ratelimit-requests-limit", "lots",
		"anthropic-ratelimit-requests-remaining", "-3",
		"anthropic-ratelimit-requests-reset", "tomorrow",
	)
	if snap := ParseHeaders(h, base); snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "12", 12 * time.Second},
		{"fractional", "1.5", 1500 * time.Millisecond},
		{"http date", base.Add(time.Minute).Format(http.TimeFormat), time.Minute},
		{"past date", base.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"zero", "0", 0},
		{"garbage", "soon", 0},
		{"inf", "+Inf", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, base); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestWaitHint(t *testing.T) {
	// retry-after wins
	snap := ParseHeaders(makeHeaders(
		"retry-after", "7",
		"anthropic-ratelimit-tokens-remaining", "0",
		"anthropic-ratelimit-tokens-reset", "2025-06-01T12:01:00Z",
	), base)
	if got := snap.WaitHint(base); got != 7*time.Second {
		t.Errorf("WaitHint with retry-after = %v", got)
	}

	// otherwise the latest exhausted reset
	snap = ParseHeaders(makeHeaders(
		"anthropic-ratelimit-requests-remaining", "0",
		"anthropic-ratelimit-requests-reset", "2025-06-01T12:00:10Z",
		"anthropic-ratelimit-output-tokens-remaining", "0",
		"anthropic-ratelimit-output-tokens-reset", "2025-06-01T12:00:40Z",
		"anthropic-ratelimit-input-tokens-remaining", "900",
		"anthropic-ratelimit-input-tokens-reset", "2025-06-01T12:05:00Z",
	), base)
	if got := snap.WaitHint(base); got != 40*time.Second {
		t.Errorf("WaitHint = %v, want 40s", got)
	}
	exhausted := snap.Exhausted()
	if len(exhausted) != 2 || exhausted[0] != "requests" || exhausted[1] != "output_tokens" {
		t.Errorf("Exhausted() = %v", exhausted)
	}

	var nilSnap *Snapshot
	if nilSnap.WaitHint(base) != 0 || nilSnap.Exhausted() != nil || nilSnap.String() != "" {
		t.Error("nil snapshot should be inert")
	}
}

func TestUsedPercentUnknown(t *testing.T) {
	limit := int64(10)
	w := &Window{Limit: &limit}
	if got := w.UsedPercent(); got != -1 {
		t.Errorf("expected -1 without remaining, got %v", got)
	}
	var nilWindow *Window
	if nilWindow.UsedPercent() != -1 || nilWindow.Exhausted() {
		t.Error("nil window should be inert")
	}
}

func TestTracker(t *testing.T) {
	var tr Tracker
	if tr.Last() != nil {
		t.Fatal("expected empty tracker")
	}
	if got := tr.Record(makeHeaders("Content-Type", "text/event-stream")); got != nil {
		t.Errorf("expected nil for headers without limits, got %+v", got)
	}
	tr.Record(makeHeaders("anthropic-ratelimit-requests-remaining", "3"))
	last := tr.Last()
	if last == nil || last.Requests == nil || *last.Requests.Remaining != 3 {
		t.Fatalf("unexpected snapshot %+v", last)
	}
	tr.Record(makeHeaders("Content-Type", "application/json"))
	if tr.Last() != last {
		t.Error("snapshot without limits must not replace the last one")
	}
}
