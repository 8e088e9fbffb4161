// Package stream implements the Streaming Facade's wire format (spec.md
// §4.9): SSE frame types and an encoder that writes "data: <json>\n\n"
// lines, flushing after each frame so the client sees them as they are
// produced.
package stream

import (
	"encoding/json"
	"io"
	"net/http"
)

// Frame type discriminants.
const (
	FrameToolCall   = "tool_call"
	FrameText       = "text"
	FrameCitations  = "citations"
	FrameDone       = "done"
)

// ToolCallFrame reports the start or completion of a retrieval sub-step.
type ToolCallFrame struct {
	Type   string `json:"type"`
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Count  int    `json:"count,omitempty"`
}

// TextFrame carries one incremental fragment of the answer.
type TextFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CitationsFrame carries the deduplicated, ranked citation list.
type CitationsFrame struct {
	Type string `json:"type"`
	Data []any  `json:"data"`
}

// DoneFrame terminates the stream.
type DoneFrame struct {
	Type string `json:"type"`
}

// Encoder writes SSE frames to an underlying ResponseWriter, flushing after
// each one.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps w. If w also implements http.Flusher, each frame is
// flushed immediately after being written.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Write encodes frame as JSON and writes it as a single SSE "data:" line
// followed by a blank line.
func (e *Encoder) Write(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// ToolCall writes a tool_call frame.
func (e *Encoder) ToolCall(tool, status string, count int) error {
	return e.Write(ToolCallFrame{Type: FrameToolCall, Tool: tool, Status: status, Count: count})
}

// Text writes a text frame.
func (e *Encoder) Text(content string) error {
	return e.Write(TextFrame{Type: FrameText, Content: content})
}

// Citations writes a citations frame.
func (e *Encoder) Citations(data []any) error {
	return e.Write(CitationsFrame{Type: FrameCitations, Data: data})
}

// Done writes the terminal done frame.
func (e *Encoder) Done() error {
	return e.Write(DoneFrame{Type: FrameDone})
}

// Fragment splits text into fixed-size runes fragments for the post-hoc
// fragmentation streaming path (spec.md §4.8): the retriever obtains a full
// answer, then the facade emits it in ~size-character pieces.
func Fragment(text string, size int) []string {
	if size <= 0 {
		size = 10
	}
	runes := []rune(text)
	var frags []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		frags = append(frags, string(runes[i:end]))
	}
	return frags
}
