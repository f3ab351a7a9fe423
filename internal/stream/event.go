package stream

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/n0madic/go-claudebridge/internal/types"
)

// Record types of the Messages API stream.
const (
	TypeMessageStart      = "message_start"
	TypeContentBlockStart = "content_block_start"
	TypeContentBlockDelta = "content_block_delta"
	TypeContentBlockStop  = "content_block_stop"
	TypeMessageDelta      = "message_delta"
	TypeMessageStop       = "message_stop"
	TypePing              = "ping"
	TypeError             = "error"
)

// Delta types carried by content_block_delta.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaCitations = "citations_delta"
	DeltaSignature = "signature_delta"
)

// Event is a decoded stream record. The set of implementations is closed.
type Event interface {
	Type() string
	RawJSON() json.RawMessage
	event()
}

type base struct {
	raw json.RawMessage
}

func (b base) RawJSON() json.RawMessage { return b.raw }
func (base) event()                     {}

// MessageStart opens the message and carries baseline usage.
type MessageStart struct {
	base
	Message struct {
		ID      string               `json:"id"`
		Model   string               `json:"model"`
		Content []types.ContentBlock `json:"content"`
		Usage   *UsageDelta          `json:"usage"`
	} `json:"message"`
}

// BlockStart opens the content block at Index.
type BlockStart struct {
	base
	Index int                `json:"index"`
	Block types.ContentBlock `json:"content_block"`
}

// BlockDelta carries an incremental fragment for the block at Index.
type BlockDelta struct {
	base
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// Delta is the union of content_block_delta payloads.
type Delta struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
	PartialJSON string          `json:"partial_json,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	Citation    *types.Citation `json:"citation,omitempty"`
}

// BlockStop closes the block at Index. Some producers repeat the complete
// block here.
type BlockStop struct {
	base
	Index int                 `json:"index"`
	Block *types.ContentBlock `json:"content_block,omitempty"`
}

// MessageDelta carries cumulative usage and the stop reason.
type MessageDelta struct {
	base
	Delta struct {
		StopReason *string              `json:"stop_reason"`
		Content    []types.ContentBlock `json:"content,omitempty"`
	} `json:"delta"`
	Usage *UsageDelta `json:"usage"`
}

// MessageStop ends the message.
type MessageStop struct{ base }

// Ping is a keep-alive.
type Ping struct{ base }

// ErrorEvent is an error reported inside an otherwise successful stream.
type ErrorEvent struct {
	base
	Error types.AnthropicErrorBody `json:"error"`
}

// Unknown is any record type the reconstructor does not handle.
type Unknown struct {
	base
	Kind string
}

func (*MessageStart) Type() string { return TypeMessageStart }
func (*BlockStart) Type() string   { return TypeContentBlockStart }
func (*BlockDelta) Type() string   { return TypeContentBlockDelta }
func (*BlockStop) Type() string    { return TypeContentBlockStop }
func (*MessageDelta) Type() string { return TypeMessageDelta }
func (*MessageStop) Type() string  { return TypeMessageStop }
func (*Ping) Type() string         { return TypePing }
func (*ErrorEvent) Type() string   { return TypeError }
func (u *Unknown) Type() string    { return u.Kind }

// Decode maps a record onto its event variant.
func Decode(rec *Record) (Event, error) {
	var ev Event
	switch rec.Type {
	case TypeMessageStart:
		ev = &MessageStart{base: base{raw: rec.Raw}}
	case TypeContentBlockStart:
		ev = &BlockStart{base: base{raw: rec.Raw}}
	case TypeContentBlockDelta:
		ev = &BlockDelta{base: base{raw: rec.Raw}}
	case TypeContentBlockStop:
		ev = &BlockStop{base: base{raw: rec.Raw}}
	case TypeMessageDelta:
		ev = &MessageDelta{base: base{raw: rec.Raw}}
	case TypeMessageStop:
		return &MessageStop{base{raw: rec.Raw}}, nil
	case TypePing:
		return &Ping{base{raw: rec.Raw}}, nil
	case TypeError:
		ev = &ErrorEvent{base: base{raw: rec.Raw}}
	default:
		return &Unknown{base: base{raw: rec.Raw}, Kind: rec.Type}, nil
	}
	if err := json.Unmarshal(rec.Raw, ev); err != nil {
		return nil, &MalformedEventError{Preview: preview(string(rec.Raw), 100)}
	}
	return ev, nil
}

// Events yields decoded events until the sentinel or end of input.
// Malformed records are logged and skipped. A read failure is yielded once
// with a nil event and ends the sequence.
func Events(r *Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			ev, err := Decode(rec)
			if err != nil {
				slog.Warn("stream.event.undecodable", "type", rec.Type, "error", err)
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
