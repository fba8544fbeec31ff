package markdown

import (
	"regexp"
	"strings"
)

// fileMarker matches [[FILE|path|name]] references emitted by the extractor.
var fileMarker = regexp.MustCompile(`\[\[FILE\|([^|\]]*)\|([^\]]*)\]\]`)

// FileRef is one file reference found in message text.
type FileRef struct {
	Path string
	Name string
}

// FileRefs lists the file markers in text, in order of appearance.
func FileRefs(text string) []FileRef {
	matches := fileMarker.FindAllStringSubmatch(text, -1)
	refs := make([]FileRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, FileRef{Path: m[1], Name: m[2]})
	}
	return refs
}

// ReplaceFileMarkers rewrites every file marker with repl(path, name).
func ReplaceFileMarkers(text string, repl func(path, name string) string) string {
	if !strings.Contains(text, "[[FILE|") {
		return text
	}
	return fileMarker.ReplaceAllStringFunc(text, func(s string) string {
		m := fileMarker.FindStringSubmatch(s)
		return repl(m[1], m[2])
	})
}

// PlainText replaces file markers with their display names.
func PlainText(text string) string {
	return ReplaceFileMarkers(text, func(_, name string) string { return name })
}
