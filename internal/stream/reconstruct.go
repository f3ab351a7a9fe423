package stream

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-claudebridge/internal/citations"
	"github.com/n0madic/go-claudebridge/internal/types"
)

// MaxToolInputSize bounds the buffered tool-input fragments per invocation.
const MaxToolInputSize = 1 << 20 // 1 MB

// Block kinds the reconstructor distinguishes.
const (
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
	BlockText             = "text"
	BlockServerToolUse    = "server_tool_use"
	BlockWebSearchResult  = "web_search_tool_result"
)

// Phase is the global reasoning phase of a message.
type Phase int

const (
	ReasoningNotStarted Phase = iota
	ReasoningInProgress
	ReasoningCompleted
)

func (p Phase) String() string {
	switch p {
	case ReasoningInProgress:
		return "in_progress"
	case ReasoningCompleted:
		return "completed"
	}
	return "not_started"
}

// Signal is a lifecycle change produced by one event, used by callers to
// publish status notifications.
type Signal int

const (
	SignalNone Signal = iota
	SignalThinkingStarted
	SignalThinkingCompleted
	SignalSearchStarted
	SignalSearchComplete
)

// Step is the outcome of feeding one event.
type Step struct {
	// Text is a visible fragment to emit immediately. Empty when none.
	Text   string
	Signal Signal
}

// ToolInvocation is one server-side web search.
type ToolInvocation struct {
	Name       string
	Query      string
	Results    []types.WebSearchResult
	BlockIndex int
	input      strings.Builder
}

// State is the per-request accumulator. It is owned by one Reconstructor
// and must not be shared between requests.
type State struct {
	Reasoning  strings.Builder
	Text       strings.Builder
	Phase      Phase
	Searches   []*ToolInvocation
	Current    *ToolInvocation
	Citations  []citations.Citation
	Usage      types.AnthropicUsage
	HasUsage   bool
	StopReason string
	MessageID  string
	Blocks     map[int]string
	History    []json.RawMessage
}

// Reconstructor rebuilds structured output from stream events.
type Reconstructor struct {
	// Dedupe drops repeated (url, excerpt) citations in Finish.
	Dedupe bool

	state    *State
	finished bool
}

// NewReconstructor returns a reconstructor with fresh state.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{state: &State{Blocks: map[int]string{}}}
}

// State exposes the accumulated state.
func (r *Reconstructor) State() *State { return r.state }

// Feed applies one event. The only error is an in-stream error event,
// returned as *ServerError.
func (r *Reconstructor) Feed(ev Event) (Step, error) {
	s := r.state
	s.History = append(s.History, ev.RawJSON())

	switch e := ev.(type) {
	case *MessageStart:
		s.MessageID = e.Message.ID
		if e.Message.Usage != nil {
			MergeUsage(&s.Usage, e.Message.Usage)
			s.HasUsage = true
		}

	case *BlockStart:
		return r.blockStart(e), nil

	case *BlockDelta:
		return r.blockDelta(e), nil

	case *BlockStop:
		return r.blockStop(e), nil

	case *MessageDelta:
		if e.Usage != nil {
			MergeUsage(&s.Usage, e.Usage)
			s.HasUsage = true
		}
		if e.Delta.StopReason != nil {
			s.StopReason = *e.Delta.StopReason
		}
		if found := citations.FromBlocks(e.Delta.Content, citations.OriginMessageDelta); len(found) > 0 {
			slog.Debug("stream.citations", "origin", citations.OriginMessageDelta, "count", len(found))
			s.Citations = append(s.Citations, found...)
		}

	case *MessageStop:
		if s.Phase == ReasoningInProgress {
			s.Phase = ReasoningCompleted
			return Step{Signal: SignalThinkingCompleted}, nil
		}

	case *ErrorEvent:
		return Step{}, &ServerError{Type: e.Error.Type, Message: e.Error.Message}

	case *Ping:

	case *Unknown:
		slog.Debug("stream.event.unknown", "type", e.Kind)
	}
	return Step{}, nil
}

func (r *Reconstructor) blockStart(e *BlockStart) Step {
	s := r.state
	kind := e.Block.Type
	s.Blocks[e.Index] = kind

	switch kind {
	case BlockThinking, BlockRedactedThinking:
		if s.Phase != ReasoningInProgress {
			s.Phase = ReasoningInProgress
			return Step{Signal: SignalThinkingStarted}
		}

	case BlockText:
		if found := citations.FromBlock(e.Block, citations.OriginBlockStart); len(found) > 0 {
			slog.Debug("stream.citations", "origin", citations.OriginBlockStart, "count", len(found))
			s.Citations = append(s.Citations, found...)
		}
		if s.Phase == ReasoningInProgress {
			s.Phase = ReasoningCompleted
			return Step{Signal: SignalThinkingCompleted}
		}

	case BlockServerToolUse:
		if e.Block.Name != "web_search" {
			return Step{}
		}
		if s.Current != nil {
			// a new search before the previous one received results
			s.Searches = append(s.Searches, s.Current)
		}
		s.Current = &ToolInvocation{
			Name:       e.Block.Name,
			Query:      gjson.GetBytes(e.Block.Input, "query").String(),
			BlockIndex: e.Index,
		}
		slog.Debug("stream.search.started", "query", s.Current.Query)
		return Step{Signal: SignalSearchStarted}

	case BlockWebSearchResult:
		if s.Current == nil {
			return Step{}
		}
		s.Current.Results = decodeResults(e.Block.Content)
		slog.Debug("stream.search.results", "query", s.Current.Query, "count", len(s.Current.Results))
	}
	return Step{}
}

func (r *Reconstructor) blockDelta(e *BlockDelta) Step {
	s := r.state
	switch e.Delta.Type {
	case DeltaThinking:
		s.Reasoning.WriteString(e.Delta.Thinking)

	case DeltaText:
		if e.Delta.Text == "" {
			return Step{}
		}
		s.Text.WriteString(e.Delta.Text)
		return Step{Text: e.Delta.Text}

	case DeltaInputJSON:
		cur := s.Current
		if cur == nil || cur.BlockIndex != e.Index {
			return Step{}
		}
		if cur.input.Len()+len(e.Delta.PartialJSON) > MaxToolInputSize {
			slog.Warn("stream.tool_input.limit", "buf_len", cur.input.Len(), "delta_len", len(e.Delta.PartialJSON))
			return Step{}
		}
		cur.input.WriteString(e.Delta.PartialJSON)
		// The buffer is usually incomplete JSON; only a full parse updates the query.
		buf := cur.input.String()
		if gjson.Valid(buf) {
			if q := gjson.Get(buf, "query"); q.Exists() {
				cur.Query = q.String()
			}
		}

	case DeltaCitations:
		if e.Delta.Citation != nil {
			s.Citations = append(s.Citations, citations.FromWire(*e.Delta.Citation, citations.OriginDelta))
		}
	}
	return Step{}
}

func (r *Reconstructor) blockStop(e *BlockStop) Step {
	s := r.state
	if s.Blocks[e.Index] != BlockWebSearchResult || s.Current == nil {
		return Step{}
	}
	slog.Debug("stream.search.finalized", "query", s.Current.Query, "results", len(s.Current.Results))
	s.Searches = append(s.Searches, s.Current)
	s.Current = nil
	return Step{Signal: SignalSearchComplete}
}

// Finish closes the reconstruction: forces the reasoning phase to
// completed, keeps any unfinished search, and appends the citations found by
// sweeping the retained history. It returns the final citation list.
func (r *Reconstructor) Finish() []citations.Citation {
	s := r.state
	if r.finished {
		return s.Citations
	}
	r.finished = true
	if s.Phase == ReasoningInProgress {
		s.Phase = ReasoningCompleted
	}
	if s.Current != nil {
		s.Searches = append(s.Searches, s.Current)
		s.Current = nil
	}
	s.Citations = append(s.Citations, citations.Sweep(s.History)...)
	if r.Dedupe {
		s.Citations = citations.Dedupe(s.Citations)
	}
	return s.Citations
}

// SearchResults returns every result of every finished search, in order.
func (s *State) SearchResults() []types.WebSearchResult {
	var out []types.WebSearchResult
	for _, inv := range s.Searches {
		out = append(out, inv.Results...)
	}
	return out
}

func decodeResults(raw json.RawMessage) []types.WebSearchResult {
	var out []types.WebSearchResult
	gjson.ParseBytes(raw).ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "web_search_result" {
			out = append(out, types.WebSearchResult{
				Type:    "web_search_result",
				Title:   item.Get("title").String(),
				URL:     item.Get("url").String(),
				PageAge: item.Get("page_age").String(),
			})
		}
		return true
	})
	return out
}

// ServerError is an error event reported inside the stream.
type ServerError struct {
	Type    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Type == "" {
		return "stream error: " + e.Message
	}
	return "stream error (" + e.Type + "): " + e.Message
}
