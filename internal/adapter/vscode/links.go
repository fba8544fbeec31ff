package vscode

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

var drivePrefix = regexp.MustCompile(`^/[A-Za-z]:/`)

// normalizePath converts backslashes and strips the leading slash the
// editor puts in front of Windows drive letters ("/c:/src" -> "c:/src").
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if drivePrefix.MatchString(p) {
		p = p[1:]
	}
	return p
}

// displayName is the trailing path segment.
func displayName(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// fileMarker renders the inline file reference consumed by renderers.
func fileMarker(p, name string) string {
	if name == "" {
		name = displayName(p)
	}
	return "[[FILE|" + p + "|" + name + "]]"
}

// normalizeText unescapes literal \r\n and \n sequences and trims.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimSpace(s)
}

// uriMap maps link targets seen in tool messages to display paths.
type uriMap map[string]string

func (m uriMap) add(key string, uri rawURI) {
	p := normalizePath(uri.filePath())
	if key == "" || p == "" {
		return
	}
	m[key] = p
}

// rewrite replaces markdown links whose target is exactly a known key with
// a file marker.
func (m uriMap) rewrite(text string) string {
	if len(m) == 0 || !strings.Contains(text, "](") {
		return text
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !strings.Contains(text, key) {
			continue
		}
		re := regexp.MustCompile(`\[[^\]]*\]\(` + regexp.QuoteMeta(key) + `\)`)
		text = re.ReplaceAllLiteralString(text, fileMarker(m[key], ""))
	}
	return text
}
