// Package testutil builds chat session files in the editor's on-disk
// formats for tests and benchmarks.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Millis returns t as epoch milliseconds, the unit session files use.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Request builds one request record.
type Request struct {
	RequestID    string
	Text         string
	Timestamp    time.Time
	ModelID      string
	Response     []map[string]any
	TotalElapsed time.Duration // zero omits result.timings
	ModelState   *int
	CompletedAt  time.Time
}

// Map renders the request the way the editor serializes it.
func (r Request) Map() map[string]any {
	m := map[string]any{
		"requestId": r.RequestID,
		"message":   map[string]any{"text": r.Text, "parts": []any{map[string]any{"kind": "text", "text": r.Text}}},
		"response":  toAny(r.Response),
	}
	if !r.Timestamp.IsZero() {
		m["timestamp"] = Millis(r.Timestamp)
	}
	if r.ModelID != "" {
		m["modelId"] = r.ModelID
	}
	if r.TotalElapsed > 0 {
		m["result"] = map[string]any{"timings": map[string]any{"totalElapsed": r.TotalElapsed.Milliseconds()}}
	}
	if r.ModelState != nil {
		state := map[string]any{"value": *r.ModelState}
		if !r.CompletedAt.IsZero() {
			state["completedAt"] = Millis(r.CompletedAt)
		}
		m["modelState"] = state
	}
	return m
}

func toAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// Markdown is a markdownContent response item.
func Markdown(text string) map[string]any {
	return map[string]any{"kind": "markdownContent", "content": map[string]any{"value": text}}
}

// Value is a kind-less response item carrying a plain string value.
func Value(text string) map[string]any {
	return map[string]any{"value": text}
}

// Thinking is a thinking response item.
func Thinking(id, value string) map[string]any {
	return map[string]any{"kind": "thinking", "id": id, "value": value}
}

// InlineReference is an inlineReference response item for a file path.
func InlineReference(path string) map[string]any {
	return map[string]any{
		"kind":            "inlineReference",
		"inlineReference": map[string]any{"scheme": "file", "path": path, "fsPath": path},
	}
}

// TerminalTool is a run-in-terminal tool invocation. An executed command
// carries terminalCommandState.
func TerminalTool(callID, command string, confirmed, executed bool) map[string]any {
	data := map[string]any{
		"kind":        "terminal",
		"commandLine": map[string]any{"original": command},
		"language":    "sh",
	}
	if executed {
		data["terminalCommandState"] = map[string]any{"exitCode": 0}
		data["terminalCommandOutput"] = map[string]any{"text": "ok"}
	}
	return map[string]any{
		"kind":              "toolInvocationSerialized",
		"toolId":            "run_in_terminal",
		"toolCallId":        callID,
		"invocationMessage": "Running `" + command + "`",
		"isConfirmed":       confirmed,
		"isComplete":        executed,
		"toolSpecificData":  data,
	}
}

// ReadFileTool is a generic tool invocation whose past-tense message links
// to path through its uris map.
func ReadFileTool(callID, path string) map[string]any {
	uri := "file://" + path
	return map[string]any{
		"kind":       "toolInvocationSerialized",
		"toolId":     "copilot_readFile",
		"toolCallId": callID,
		"pastTenseMessage": map[string]any{
			"value": fmt.Sprintf("Read [](%s)", uri),
			"uris": map[string]any{
				uri: map[string]any{"scheme": "file", "path": path, "fsPath": path},
			},
		},
		"isConfirmed": true,
		"isComplete":  true,
	}
}

// TodoTool is a todo-list tool invocation.
func TodoTool(callID string, titles ...string) map[string]any {
	items := make([]any, len(titles))
	for i, title := range titles {
		items[i] = map[string]any{"id": i + 1, "title": title, "status": "not-started"}
	}
	return map[string]any{
		"kind":             "toolInvocationSerialized",
		"toolId":           "manage_todo_list",
		"toolCallId":       callID,
		"isConfirmed":      true,
		"isComplete":       true,
		"toolSpecificData": map[string]any{"kind": "todoList", "todoList": items},
	}
}

// Session describes a session file.
type Session struct {
	SessionID    string
	CustomTitle  string
	CreationDate time.Time
	Requests     []Request
}

func (s Session) header() map[string]any {
	m := map[string]any{
		"version":      3,
		"sessionId":    s.SessionID,
		"creationDate": Millis(s.CreationDate),
		"requests":     []any{},
	}
	if s.CustomTitle != "" {
		m["customTitle"] = s.CustomTitle
	}
	return m
}

// WriteJSON writes s as a single JSON document.
func WriteJSON(path string, s Session) error {
	doc := s.header()
	requests := make([]any, len(s.Requests))
	for i, r := range s.Requests {
		requests[i] = r.Map()
	}
	doc["requests"] = requests
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteJSONL writes s as a snapshot operation followed by one append
// operation per request.
func WriteJSONL(path string, s Session) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(map[string]any{"kind": 0, "v": s.header()}); err != nil {
		return err
	}
	for _, r := range s.Requests {
		op := map[string]any{"kind": 2, "k": []any{"requests"}, "v": []any{r.Map()}}
		if err := enc.Encode(op); err != nil {
			return err
		}
	}
	return nil
}

// AppendOps appends raw operation lines to a JSONL session file.
func AppendOps(path string, ops ...map[string]any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return err
		}
	}
	return nil
}

// GenerateSessionFile creates a JSONL session with requestCount turns of
// roughly avgMessageSize bytes each, for benchmarks.
func GenerateSessionFile(path string, requestCount int, avgMessageSize int) error {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	s := Session{SessionID: "bench-session-001", CreationDate: base}
	for i := 0; i < requestCount; i++ {
		ts := base.Add(time.Duration(i*2) * time.Second)
		response := []map[string]any{
			Thinking(fmt.Sprintf("t%d", i), padded(avgMessageSize/4, fmt.Sprintf("Thinking about request %d: ", i))),
			Markdown(padded(avgMessageSize/2, fmt.Sprintf("Response %d: ", i))),
		}
		if i%5 == 0 {
			response = append(response, ReadFileTool(fmt.Sprintf("call_%06d", i), fmt.Sprintf("/path/to/file_%d.go", i)))
		}
		s.Requests = append(s.Requests, Request{
			RequestID:    fmt.Sprintf("request_%06d", i),
			Text:         padded(avgMessageSize/2, fmt.Sprintf("User message %d: ", i)),
			Timestamp:    ts,
			ModelID:      "copilot/gpt-4o",
			Response:     response,
			TotalElapsed: time.Second,
		})
	}
	return WriteJSONL(path, s)
}

func padded(size int, prefix string) string {
	if size <= len(prefix) {
		return prefix
	}
	return prefix + strings.Repeat("x", size-len(prefix))
}

// ApproximateRequestCount returns the request count that generates a file
// of approximately targetSize bytes.
func ApproximateRequestCount(targetSize int64, avgMessageSize int) int {
	// Each request is roughly 1.25 * avgMessageSize of text plus ~400 bytes of envelope.
	pairSize := avgMessageSize + avgMessageSize/4 + 400
	return int(targetSize) / pairSize
}
