package pipe

import (
	"strconv"

	"github.com/n0madic/go-claudebridge/internal/types"
)

// Notification is a side-channel message published while a request runs.
// The set of implementations is closed.
type Notification interface {
	notification()
}

// Status is a progress line. Done marks the step finished; Hidden asks the
// client to drop it once a newer status arrives.
type Status struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Hidden      bool   `json:"hidden"`
}

// Citation attaches a source to the response.
type Citation struct {
	Document []string          `json:"document"`
	Metadata []CitationMeta    `json:"metadata"`
	Source   CitationReference `json:"source"`
}

type CitationMeta struct {
	Source string `json:"source"`
}

type CitationReference struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

// Finished is the last notification of a stream that reached its end. It
// carries the upstream stop reason and the merged usage counters; Usage is
// nil when the stream reported none. Failed streams do not publish it.
type Finished struct {
	StopReason string
	Usage      *types.AnthropicUsage
}

// Source types of citation notifications.
const (
	SourceCitation      = "citation"
	SourceSearchResults = "web_search_results"
)

func (Status) notification()   {}
func (Citation) notification() {}
func (Finished) notification() {}

// Sink receives notifications synchronously, on the goroutine consuming the
// fragment sequence, in the order they occur.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

func newCitation(index int, document, url, sourceType string) Citation {
	return Citation{
		Document: []string{document},
		Metadata: []CitationMeta{{Source: url}},
		Source: CitationReference{
			Name: "[" + strconv.Itoa(index) + "]",
			Type: sourceType,
			URLs: []string{url},
		},
	}
}
