package vscode

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/chatlog"
)

// Extractor turns a decoded session document into chat messages.
type Extractor struct {
	Logger *slog.Logger
	// Timeline fills ChatMessage.Timeline with segments in emission order.
	Timeline bool
}

// Extraction is the output of one Extract call.
type Extraction struct {
	Messages      []adapter.ChatMessage
	LastModel     string
	UntitledTools int
	UnknownKinds  map[string]int
}

// Extract returns the messages of doc with timelines enabled.
func Extract(doc chatlog.Document) []adapter.ChatMessage {
	e := Extractor{Timeline: true}
	return e.Extract(doc).Messages
}

// Extract walks doc.requests in order. Null and non-object requests are
// skipped.
func (e *Extractor) Extract(doc chatlog.Document) Extraction {
	var x Extraction
	requests, _ := doc["requests"].([]any)
	for i, entry := range requests {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		var req rawRequest
		if err := remarshal(obj, &req); err != nil {
			e.logger().Debug("skipping request", "index", i, "err", err)
			continue
		}
		e.extractRequest(req, &x)
	}
	return x
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// remarshal converts a decoded JSON value into a typed struct.
func remarshal(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// sessionHeader reads the top-level session fields of doc.
func sessionHeader(doc chatlog.Document) rawSession {
	var hdr rawSession
	// Type mismatches leave the affected field empty.
	_ = remarshal(map[string]any{
		"sessionId":    doc["sessionId"],
		"customTitle":  doc["customTitle"],
		"creationDate": doc["creationDate"],
	}, &hdr)
	return hdr
}

func userText(m rawUserMessage) string {
	if m.Text != nil && *m.Text != "" {
		return *m.Text
	}
	for _, part := range m.Parts {
		if part.Kind == "text" {
			return part.Text
		}
	}
	return ""
}

// segment is a timeline entry under construction.
type segment struct {
	kind     adapter.SegmentKind
	text     strings.Builder
	thinking int
	tool     int
}

func (e *Extractor) extractRequest(req rawRequest, x *Extraction) {
	if req.ModelID != "" {
		x.LastModel = req.ModelID
	}

	if text := normalizeText(userText(req.Message)); text != "" {
		x.Messages = append(x.Messages, adapter.ChatMessage{
			Role:      adapter.RoleUser,
			Text:      text,
			Timestamp: req.Timestamp.Time,
		})
	}

	rawItems := req.responseItems()
	items := make([]responseItem, 0, len(rawItems))
	for i, raw := range rawItems {
		item, ok := parseItem(raw)
		if !ok {
			e.logger().Debug("skipping response item", "request", req.RequestID, "index", i)
			continue
		}
		items = append(items, item)
	}

	// Pass A: tool invocations, pending command, link targets.
	uris := uriMap{}
	var tools []adapter.ToolInvocation
	var pending *adapter.PendingCommand
	for _, item := range items {
		ti, ok := item.(toolItem)
		if !ok {
			continue
		}
		tool := buildTool(ti.raw)
		tools = append(tools, tool)
		for key, uri := range ti.raw.PastTenseMessage.URIs {
			uris.add(key, uri)
		}
		for key, uri := range ti.raw.InvocationMessage.URIs {
			uris.add(key, uri)
		}
		if tool.Kind == adapter.ToolKindTerminal && !tool.IsConfirmed && !tool.Terminal.Executed {
			pending = &adapter.PendingCommand{
				Command:    tool.Terminal.CommandLine,
				Language:   tool.Terminal.Language,
				ToolCallID: tool.ToolCallID,
			}
		}
	}

	// Pass B: text and thinking in original order.
	var text strings.Builder
	var parts []adapter.ThinkingPart
	var segs []*segment
	appendText := func(s string) {
		text.WriteString(s)
		if n := len(segs); n > 0 && segs[n-1].kind == adapter.SegmentText {
			segs[n-1].text.WriteString(s)
			return
		}
		seg := &segment{kind: adapter.SegmentText}
		seg.text.WriteString(s)
		segs = append(segs, seg)
	}
	toolIdx := 0
	for _, item := range items {
		switch it := item.(type) {
		case thinkingItem:
			value := normalizeText(it.value)
			if value == "" {
				continue
			}
			parts = append(parts, adapter.ThinkingPart{ID: it.id, Value: value, GeneratedTitle: it.generatedTitle})
			segs = append(segs, &segment{kind: adapter.SegmentThinking, thinking: len(parts) - 1})
		case inlineRefItem:
			p := normalizePath(it.path)
			if p == "" {
				continue
			}
			appendText(fileMarker(p, it.name))
		case textItem:
			appendText(it.value)
		case toolItem:
			segs = append(segs, &segment{kind: adapter.SegmentTool, tool: toolIdx})
			toolIdx++
		case unknownItem:
			if x.UnknownKinds == nil {
				x.UnknownKinds = make(map[string]int)
			}
			x.UnknownKinds[it.kind]++
			e.logger().Debug("unrecognized response item kind", "kind", it.kind, "request", req.RequestID)
			if it.hasValue {
				appendText(it.value)
			}
		case ignoredItem:
		}
	}

	// Post-pass: link rewriting and tool titles.
	assembled := normalizeText(uris.rewrite(text.String()))
	for i := range tools {
		e.resolveTitle(&tools[i], uris, x)
	}

	if assembled == "" && pending == nil && len(parts) == 0 && len(tools) == 0 {
		return
	}

	msg := adapter.ChatMessage{
		Role:           adapter.RoleAssistant,
		Text:           assembled,
		Timestamp:      replyTime(req),
		Model:          req.ModelID,
		State:          responseState(req),
		PendingCommand: pending,
	}
	if len(parts) > 0 || len(tools) > 0 {
		msg.Thinking = &adapter.ThinkingSection{
			ThinkingParts:   nonNil(parts),
			ToolInvocations: nonNil(tools),
		}
	}
	if e.Timeline {
		msg.Timeline = buildTimeline(segs, parts, tools, uris)
	}
	x.Messages = append(x.Messages, msg)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func buildTimeline(segs []*segment, parts []adapter.ThinkingPart, tools []adapter.ToolInvocation, uris uriMap) []adapter.TimelineSegment {
	var out []adapter.TimelineSegment
	for _, seg := range segs {
		switch seg.kind {
		case adapter.SegmentText:
			text := normalizeText(uris.rewrite(seg.text.String()))
			if text == "" {
				continue
			}
			out = append(out, adapter.TimelineSegment{Kind: adapter.SegmentText, Text: text})
		case adapter.SegmentThinking:
			part := parts[seg.thinking]
			out = append(out, adapter.TimelineSegment{Kind: adapter.SegmentThinking, Thinking: &part})
		case adapter.SegmentTool:
			tool := tools[seg.tool]
			out = append(out, adapter.TimelineSegment{Kind: adapter.SegmentTool, Tool: &tool})
		}
	}
	return out
}

func buildTool(it rawItem) adapter.ToolInvocation {
	tool := adapter.ToolInvocation{
		ToolID:            it.ToolID,
		ToolCallID:        it.ToolCallID,
		InvocationMessage: normalizeText(it.InvocationMessage.Value),
		PastTenseMessage:  normalizeText(it.PastTenseMessage.Value),
		IsConfirmed:       bool(it.IsConfirmed),
		IsComplete:        it.IsComplete,
	}

	d := it.ToolSpecificData
	if d == nil {
		return tool
	}
	switch d.Kind {
	case "terminal":
		tool.Kind = adapter.ToolKindTerminal
		details := &adapter.TerminalDetails{
			CommandLine: d.command(),
			Language:    d.Language,
			Executed:    d.TerminalCommandState != nil,
		}
		if d.TerminalCommandState != nil {
			details.ExitCode = d.TerminalCommandState.ExitCode
		}
		if d.TerminalCommandOutput != nil {
			details.Output = d.TerminalCommandOutput.Text
		}
		tool.Terminal = details
	case "todoList":
		tool.Kind = adapter.ToolKindTodoList
		tool.TodoList = make([]adapter.TodoItem, 0, len(d.TodoList))
		for _, item := range d.TodoList {
			tool.TodoList = append(tool.TodoList, adapter.TodoItem{
				ID:     string(item.ID),
				Title:  item.Title,
				Status: item.Status,
			})
		}
	}
	return tool
}

// resolveTitle sets the display title. A tool with no title source falls
// back to its ID and is reported as a data-quality defect.
func (e *Extractor) resolveTitle(tool *adapter.ToolInvocation, uris uriMap, x *Extraction) {
	tool.PastTenseMessage = uris.rewrite(tool.PastTenseMessage)
	tool.InvocationMessage = uris.rewrite(tool.InvocationMessage)

	switch {
	case tool.PastTenseMessage != "":
		tool.Title = tool.PastTenseMessage
	case tool.InvocationMessage != "":
		tool.Title = tool.InvocationMessage
	default:
		tool.Title = toolDetail(*tool)
	}
	if tool.Title != "" {
		return
	}

	tool.TitleMissing = true
	tool.Title = tool.ToolID
	if tool.Title == "" {
		tool.Title = "tool"
	}
	x.UntitledTools++
	e.logger().Warn("tool invocation has no title", "toolId", tool.ToolID, "toolCallId", tool.ToolCallID)
}

func toolDetail(tool adapter.ToolInvocation) string {
	switch tool.Kind {
	case adapter.ToolKindTerminal:
		return strings.TrimSpace(tool.Terminal.CommandLine)
	case adapter.ToolKindTodoList:
		if len(tool.TodoList) == 1 {
			return "Updated todo list (1 item)"
		}
		return fmt.Sprintf("Updated todo list (%d items)", len(tool.TodoList))
	}
	return ""
}

// replyTime approximates when the assistant finished: the request time
// plus total elapsed, else the model's completion time, else the request
// time.
func replyTime(req rawRequest) time.Time {
	ts := req.Timestamp.Time
	if r := req.Result; !ts.IsZero() && r != nil && r.Timings != nil && r.Timings.TotalElapsed != nil {
		return ts.Add(time.Duration(*r.Timings.TotalElapsed * float64(time.Millisecond)))
	}
	if ms := req.ModelState; ms != nil && !ms.CompletedAt.IsZero() {
		return ms.CompletedAt.Time
	}
	return ts
}

func responseState(req rawRequest) adapter.ResponseState {
	if ms := req.ModelState; ms != nil && ms.Value != nil {
		switch *ms.Value {
		case 0:
			return adapter.StatePending
		case 1:
			return adapter.StateComplete
		case 2:
			return adapter.StateCancelled
		case 3:
			return adapter.StateFailed
		}
	}
	switch {
	case req.IsCanceled:
		return adapter.StateCancelled
	case req.Result != nil && req.Result.ErrorDetails != nil:
		return adapter.StateFailed
	case req.Result != nil:
		return adapter.StateComplete
	}
	return ""
}
