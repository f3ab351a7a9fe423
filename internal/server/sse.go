package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-claudebridge/internal/pipe"
	"github.com/n0madic/go-claudebridge/internal/types"
)

// Event names of the side-channel records interleaved with the chunks.
const (
	eventStatus   = "status"
	eventCitation = "citation"
)

// chunkWriter renders pipe fragments as chat.completion.chunk records and
// notifications as named events. The first failed write marks the client as
// gone; later writes are dropped.
type chunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64

	sentRole   bool
	failed     bool
	stopReason string
	usage      *types.AnthropicUsage
}

func newChunkWriter(w http.ResponseWriter, model string) (*chunkWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &chunkWriter{
		w:       w,
		flusher: flusher,
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}, true
}

// content writes one fragment. It reports false once the client is gone.
func (c *chunkWriter) content(text string) bool {
	delta := types.ChatDelta{Content: text}
	if !c.sentRole {
		delta.Role = "assistant"
		c.sentRole = true
	}
	c.chunk(delta, nil)
	return !c.failed
}

// Notify implements pipe.Sink.
func (c *chunkWriter) Notify(n pipe.Notification) {
	switch n := n.(type) {
	case pipe.Status:
		c.event(eventStatus, n)
	case pipe.Citation:
		c.event(eventCitation, n)
	case pipe.Finished:
		c.stopReason = n.StopReason
		c.usage = n.Usage
	}
}

// finish closes the stream with the finish chunk, the usage chunk when the
// caller asked for one, and the sentinel.
func (c *chunkWriter) finish(includeUsage bool) {
	delta := types.ChatDelta{}
	if !c.sentRole {
		delta.Role = "assistant"
		c.sentRole = true
	}
	c.chunk(delta, finishReason(c.stopReason))
	if includeUsage {
		usage := types.UsageFromAnthropic(c.usage)
		if usage == nil {
			usage = &types.Usage{}
		}
		c.record(types.ChatCompletionChunk{Choices: []types.ChatChunkChoice{}, Usage: usage})
	}
	c.write("data: [DONE]\n\n")
}

func (c *chunkWriter) chunk(delta types.ChatDelta, finish *string) {
	c.record(types.ChatCompletionChunk{
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}

func (c *chunkWriter) record(chunk types.ChatCompletionChunk) {
	chunk.ID = c.id
	chunk.Object = "chat.completion.chunk"
	chunk.Created = c.created
	chunk.Model = c.model
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("failed to marshal SSE chunk", "error", err)
		return
	}
	c.write("data: " + string(data) + "\n\n")
}

func (c *chunkWriter) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal SSE event", "event", name, "error", err)
		return
	}
	c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

func (c *chunkWriter) write(s string) {
	if c.failed {
		return
	}
	if _, err := fmt.Fprint(c.w, s); err != nil {
		slog.Debug("client disconnected during SSE write", "error", err)
		c.failed = true
		return
	}
	c.flusher.Flush()
}
