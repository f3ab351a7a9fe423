package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// debugOut receives request/response dumps. Tests swap it.
var debugOut io.Writer = os.Stderr

// dumpedEventTypes are the stream records worth dumping: the rest are text
// fragments that would drown the output.
var dumpedEventTypes = map[string]bool{
	"message_start": true,
	"message_delta": true,
	"error":         true,
}

func (c *Client) dumpUpstreamRequest(req *http.Request, body []byte) {
	if c == nil || !c.Debug || req == nil {
		return
	}
	clone := req.Clone(req.Context())
	for _, h := range []string{"x-api-key", "Authorization"} {
		if clone.Header.Get(h) != "" {
			clone.Header.Set(h, "[redacted]")
		}
	}
	clone.Body = nil
	headerDump, err := httputil.DumpRequestOut(clone, false)
	if err != nil {
		slog.Error("upstream.request.dump.failed", "error", err)
		return
	}
	c.writeDebugDumpBlock("UPSTREAM REQUEST", append(headerDump, body...))
}

func (c *Client) dumpUpstreamResponse(resp *http.Response) {
	if c == nil || !c.Debug || resp == nil {
		return
	}

	headerDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump.failed", "error", err)
	} else {
		c.writeDebugDumpBlock("UPSTREAM RESPONSE", headerDump)
	}

	if resp.Body == nil {
		return
	}
	title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode)
	c.writeDebugDumpBoundary(title, true)
	sse := strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream")
	resp.Body = &debugDumpReadCloser{src: resp.Body, client: c, title: title, sse: sse}
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		c.writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			c.writeDebugDumpChunk([]byte("\n"))
		}
	}
	c.writeDebugDumpBoundary(title, false)
}

func (c *Client) writeDebugDumpBoundary(title string, begin bool) {
	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	c.writeDebugDumpChunk([]byte("===== " + strings.TrimSpace(title) + " " + kind + " =====\n"))
}

func (c *Client) writeDebugDumpChunk(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if _, err := debugOut.Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

// debugDumpReadCloser tees a response body into the dump as it is consumed.
// Event streams are dumped record by record, filtered by dumpedEventTypes.
type debugDumpReadCloser struct {
	src      io.ReadCloser
	client   *Client
	title    string
	sse      bool
	buf      []byte
	lastByte byte
	closed   bool
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		if d.sse {
			d.buf = append(d.buf, p[:n]...)
			d.flushRecords(false)
		} else {
			d.lastByte = p[n-1]
			d.client.writeDebugDumpChunk(p[:n])
		}
	}
	if errors.Is(err, io.EOF) {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	if d.closed {
		return
	}
	d.closed = true
	d.flushRecords(true)
	if d.lastByte != 0 && d.lastByte != '\n' {
		d.client.writeDebugDumpChunk([]byte("\n"))
	}
	d.client.writeDebugDumpBoundary(d.title, false)
}

func (d *debugDumpReadCloser) flushRecords(final bool) {
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		d.dumpLine(d.buf[:idx])
		d.buf = d.buf[idx+1:]
	}
	if final && len(d.buf) > 0 {
		d.dumpLine(d.buf)
		d.buf = nil
	}
}

func (d *debugDumpReadCloser) dumpLine(line []byte) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if !dumpedEventTypes[gjson.GetBytes(data, "type").String()] {
		return
	}
	d.lastByte = '\n'
	d.client.writeDebugDumpChunk(append(append([]byte("data: "), data...), '\n'))
}
