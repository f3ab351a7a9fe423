// Package cache places prompt-caching breakpoints on a Messages request.
package cache

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-claudebridge/internal/types"
)

// MaxMarkers is the most breakpoints a single request receives.
const MaxMarkers = 2

// Planner marks the preamble and the second-to-last user turn. TTL is the
// marker's wire ttl ("1h"); empty means the default duration.
type Planner struct {
	Enabled      bool
	SystemPrompt bool
	UserMessages bool
	TTL          string
}

func (p Planner) marker() types.CacheControl {
	m := types.EphemeralCache
	m.TTL = p.TTL
	return m
}

// Apply mutates req in place and returns the number of markers applied.
func (p Planner) Apply(req *types.MessagesRequest) int {
	if !p.Enabled || req == nil {
		return 0
	}
	applied := 0
	if p.SystemPrompt && p.markSystem(req) {
		applied++
	}
	if p.UserMessages && p.markUserTurn(req) {
		applied++
	}
	slog.Debug("cache.breakpoints", "applied", applied)
	return applied
}

// markSystem wraps a scalar preamble into a single marked text block, or
// marks the last element of a list preamble.
func (p Planner) markSystem(req *types.MessagesRequest) bool {
	if len(req.System) == 0 {
		return false
	}
	sys := gjson.ParseBytes(req.System)
	switch {
	case sys.Type == gjson.String:
		if sys.String() == "" {
			return false
		}
		block := types.NewTextBlock(sys.String())
		marker := p.marker()
		block.CacheControl = &marker
		raw, err := json.Marshal([]types.TextBlock{block})
		if err != nil {
			return false
		}
		req.System = raw
		return true
	case sys.IsArray():
		n := len(sys.Array())
		if n == 0 {
			return false
		}
		out, ok := p.markElement(req.System, n-1)
		if ok {
			req.System = out
		}
		return ok
	}
	return false
}

// markUserTurn marks the last segment of the second-to-last user turn.
// Unstructured or empty content is left alone.
func (p Planner) markUserTurn(req *types.MessagesRequest) bool {
	var users []int
	for i := range req.Messages {
		if req.Messages[i].Role == "user" {
			users = append(users, i)
		}
	}
	if len(users) < 2 {
		return false
	}
	msg := &req.Messages[users[len(users)-2]]
	if !msg.IsStructured() {
		return false
	}
	n := len(gjson.ParseBytes(msg.Content).Array())
	if n == 0 {
		return false
	}
	out, ok := p.markElement(msg.Content, n-1)
	if ok {
		msg.Content = out
	}
	return ok
}

func (p Planner) markElement(raw json.RawMessage, idx int) (json.RawMessage, bool) {
	marker, err := json.Marshal(p.marker())
	if err != nil {
		return raw, false
	}
	out, err := sjson.SetRawBytes(raw, strconv.Itoa(idx)+".cache_control", marker)
	if err != nil {
		slog.Warn("cache.breakpoint.failed", "error", err)
		return raw, false
	}
	return out, true
}

// Count returns the number of cache markers present in req.
func Count(req *types.MessagesRequest) int {
	n := 0
	if len(req.System) > 0 {
		n += len(gjson.GetBytes(req.System, "#.cache_control").Array())
	}
	for _, m := range req.Messages {
		if gjson.ValidBytes(m.Content) {
			n += len(gjson.GetBytes(m.Content, "#.cache_control").Array())
		}
	}
	return n
}
