package vscode

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Response item kinds written by the editor.
const (
	kindMarkdown       = "markdownContent"
	kindThinking       = "thinking"
	kindInlineRef      = "inlineReference"
	kindToolInvocation = "toolInvocationSerialized"
	kindMCPStarting    = "mcpServersStarting"
	kindProgressTask   = "progressTaskSerialized"
	kindTextEditGroup  = "textEditGroup"
)

// excludedKinds never contribute text even when they carry a string value.
var excludedKinds = map[string]bool{
	kindMCPStarting:    true,
	kindProgressTask:   true,
	kindToolInvocation: true,
	kindThinking:       true,
	kindTextEditGroup:  true,
}

// quietKinds are known kinds with nothing to extract. They are not counted
// as unrecognized.
var quietKinds = map[string]bool{
	"undoStop":              true,
	"codeblockUri":          true,
	"prepareToolInvocation": true,
	"notebookEditGroup":     true,
	"confirmation":          true,
	"progressMessage":       true,
	"warning":               true,
	"command":               true,
	"elicitation":           true,
	"elicitationSerialized": true,
	"extensions":            true,
	"pullRequest":           true,
	"multiDiffData":         true,
	"toolInvocation":        true,
	"references":            true,
	"codeCitation":          true,
}

// responseItem is one element of a request's response list. The set of
// implementations is closed; unknownItem covers every unrecognized kind.
type responseItem interface {
	responseItem()
}

type textItem struct {
	kind  string
	value string
}

type thinkingItem struct {
	id             string
	value          string
	generatedTitle string
}

type inlineRefItem struct {
	path string
	name string
}

type toolItem struct {
	raw rawItem
}

// ignoredItem is a recognized kind that contributes no text.
type ignoredItem struct {
	kind string
}

// unknownItem is a kind outside the known set. Its value, when a plain
// string, still counts as text.
type unknownItem struct {
	kind     string
	value    string
	hasValue bool
}

func (textItem) responseItem()      {}
func (thinkingItem) responseItem()  {}
func (inlineRefItem) responseItem() {}
func (toolItem) responseItem()      {}
func (ignoredItem) responseItem()   {}
func (unknownItem) responseItem()   {}

// parseItem classifies one raw response element. Non-object elements and
// elements that fail to decode return ok=false.
func parseItem(raw json.RawMessage) (item responseItem, ok bool) {
	if !isObject(raw) {
		return nil, false
	}
	var it rawItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, false
	}

	kind := ""
	if it.Kind != nil {
		kind = *it.Kind
	}
	value, hasValue := stringValue(it.Value)

	switch kind {
	case kindThinking:
		return thinkingItem{id: it.ID, value: thinkingValue(it.Value), generatedTitle: it.GeneratedTitle}, true
	case kindInlineRef:
		if it.InlineReference == nil {
			return ignoredItem{kind: kind}, true
		}
		return inlineRefItem{path: it.InlineReference.filePath(), name: it.Name}, true
	case kindToolInvocation:
		return toolItem{raw: it}, true
	case kindMarkdown:
		if !hasValue && it.Content != nil {
			value, hasValue = it.Content.Value, true
		}
		if !hasValue {
			return ignoredItem{kind: kind}, true
		}
		return textItem{kind: kind, value: value}, true
	case "":
		if !hasValue {
			return ignoredItem{}, true
		}
		return textItem{value: value}, true
	}

	if excludedKinds[kind] {
		return ignoredItem{kind: kind}, true
	}
	if quietKinds[kind] {
		if hasValue {
			return textItem{kind: kind, value: value}, true
		}
		return ignoredItem{kind: kind}, true
	}
	return unknownItem{kind: kind, value: value, hasValue: hasValue}, true
}

func stringValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// thinkingValue accepts a string or a list of string chunks.
func thinkingValue(raw json.RawMessage) string {
	if s, ok := stringValue(raw); ok {
		return s
	}
	var chunks []string
	if err := json.Unmarshal(raw, &chunks); err == nil {
		return strings.Join(chunks, "")
	}
	return ""
}
