// Package limits reads the rate-limit headers the Messages API attaches to
// every response. Snapshots are kept in memory only.
package limits

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const headerPrefix = "anthropic-ratelimit-"

// Window is one rate-limited resource.
type Window struct {
	Limit     *int64     `json:"limit,omitempty"`
	Remaining *int64     `json:"remaining,omitempty"`
	Reset     *time.Time `json:"reset,omitempty"`
}

// UsedPercent reports how much of the window is consumed, or -1 when the
// headers did not carry both counters.
func (w *Window) UsedPercent() float64 {
	if w == nil || w.Limit == nil || w.Remaining == nil || *w.Limit <= 0 {
		return -1
	}
	used := float64(*w.Limit-*w.Remaining) / float64(*w.Limit) * 100
	return math.Max(0, math.Min(100, used))
}

// Exhausted reports whether nothing remains in the window.
func (w *Window) Exhausted() bool {
	return w != nil && w.Remaining != nil && *w.Remaining <= 0
}

// Snapshot holds the windows seen on one response.
type Snapshot struct {
	CapturedAt   time.Time     `json:"captured_at"`
	Requests     *Window       `json:"requests,omitempty"`
	Tokens       *Window       `json:"tokens,omitempty"`
	InputTokens  *Window       `json:"input_tokens,omitempty"`
	OutputTokens *Window       `json:"output_tokens,omitempty"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
}

// ParseHeaders extracts rate limit information from upstream response headers.
// It returns nil when none are present.
func ParseHeaders(headers http.Header, now time.Time) *Snapshot {
	if headers == nil {
		return nil
	}
	s := &Snapshot{
		CapturedAt:   now,
		Requests:     parseWindow(headers, "requests"),
		Tokens:       parseWindow(headers, "tokens"),
		InputTokens:  parseWindow(headers, "input-tokens"),
		OutputTokens: parseWindow(headers, "output-tokens"),
		RetryAfter:   parseRetryAfter(headers.Get("retry-after"), now),
	}
	if s.Requests == nil && s.Tokens == nil && s.InputTokens == nil && s.OutputTokens == nil && s.RetryAfter == 0 {
		return nil
	}
	return s
}

func parseWindow(headers http.Header, resource string) *Window {
	key := headerPrefix + resource + "-"
	w := &Window{
		Limit:     parseCount(headers.Get(key + "limit")),
		Remaining: parseCount(headers.Get(key + "remaining")),
	}
	if v := strings.TrimSpace(headers.Get(key + "reset")); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			w.Reset = &t
		}
	}
	if w.Limit == nil && w.Remaining == nil && w.Reset == nil {
		return nil
	}
	return w
}

func parseCount(v string) *int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i < 0 {
		return nil
	}
	return &i
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// WaitHint is how long to wait before retrying: retry-after when present,
// otherwise the latest reset among exhausted windows. Zero means unknown.
func (s *Snapshot) WaitHint(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	var wait time.Duration
	for _, w := range s.windows() {
		if !w.Exhausted() || w.Reset == nil {
			continue
		}
		if d := w.Reset.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Exhausted names the windows with nothing remaining.
func (s *Snapshot) Exhausted() []string {
	if s == nil {
		return nil
	}
	var out []string
	names := []string{"requests", "tokens", "input_tokens", "output_tokens"}
	for i, w := range s.windows() {
		if w.Exhausted() {
			out = append(out, names[i])
		}
	}
	return out
}

func (s *Snapshot) windows() []*Window {
	return []*Window{s.Requests, s.Tokens, s.InputTokens, s.OutputTokens}
}

// String summarises the counters, e.g. "requests=12/50 tokens=9000/10000".
func (s *Snapshot) String() string {
	if s == nil {
		return ""
	}
	var parts []string
	names := []string{"requests", "tokens", "input_tokens", "output_tokens"}
	for i, w := range s.windows() {
		if w == nil || w.Limit == nil || w.Remaining == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d/%d", names[i], *w.Remaining, *w.Limit))
	}
	if s.RetryAfter > 0 {
		parts = append(parts, "retry_after="+s.RetryAfter.String())
	}
	return strings.Join(parts, " ")
}

// Tracker keeps the most recent snapshot for the process.
type Tracker struct {
	mu   sync.RWMutex
	last *Snapshot
}

// Record parses headers and keeps the snapshot if any limit header was present.
func (t *Tracker) Record(headers http.Header) *Snapshot {
	s := ParseHeaders(headers, time.Now().UTC())
	if s == nil {
		return nil
	}
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()
	return s
}

// Last returns the latest snapshot, or nil.
func (t *Tracker) Last() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}
