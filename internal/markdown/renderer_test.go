package markdown

import (
	"reflect"
	"strings"
	"testing"
)

func TestFileRefs(t *testing.T) {
	text := "See [[FILE|/src/main.go|main.go]] and [[FILE|C:/x/y.ts|y.ts]]."
	got := FileRefs(text)
	want := []FileRef{{Path: "/src/main.go", Name: "main.go"}, {Path: "C:/x/y.ts", Name: "y.ts"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FileRefs = %#v, want %#v", got, want)
	}
	if refs := FileRefs("no markers"); len(refs) != 0 {
		t.Fatalf("FileRefs(plain) = %#v", refs)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"open [[FILE|/a/b.go|b.go]] now", "open b.go now"},
		{"[[FILE|/x|x]][[FILE|/y|y]]", "xy"},
		{"[[FILE|broken", "[[FILE|broken"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "hello world", 20, []string{"hello world"}},
		{"wraps", "aaa bbb ccc", 7, []string{"aaa bbb", "ccc"}},
		{"keeps line breaks", "a\nb", 10, []string{"a", "b"}},
		{"breaks long words", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"zero width", "a b", 0, []string{"a b"}},
		{"empty", "   ", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WrapText(tt.text, tt.width); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("WrapText = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRenderContent_NarrowFallsBackToWrap(t *testing.T) {
	r := NewRenderer("notty")
	got := r.RenderContent("see [[FILE|/a/b.go|b.go]]", 20)
	if len(got) != 1 || got[0] != "see `b.go`" {
		t.Fatalf("RenderContent = %#v", got)
	}
}

func TestRenderContent_CachesByContentAndWidth(t *testing.T) {
	r := NewRenderer("notty")
	first := r.RenderContent("# Title\n\nSome **bold** text.", 60)
	if len(first) == 0 {
		t.Fatal("expected rendered lines")
	}
	joined := strings.Join(first, "\n")
	if !strings.Contains(joined, "Title") || !strings.Contains(joined, "bold") {
		t.Fatalf("rendered output missing content: %q", joined)
	}
	if r.cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", r.cache.Len())
	}
	second := r.RenderContent("# Title\n\nSome **bold** text.", 60)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("cached render differs")
	}

	// Another width gets its own renderer and keeps the first render.
	r.RenderContent("other", 70)
	if r.cache.Len() != 2 || len(r.renderers) != 2 {
		t.Fatalf("entries = %d renderers = %d, want 2 and 2", r.cache.Len(), len(r.renderers))
	}
}

func TestRenderContent_MarkersShareCacheEntry(t *testing.T) {
	r := NewRenderer("notty")
	a := r.RenderContent("open [[FILE|/a/main.go|main.go]] first", 60)
	b := r.RenderContent("open [[FILE|/b/main.go|main.go]] first", 60)
	if !reflect.DeepEqual(a, b) || r.cache.Len() != 1 {
		t.Fatalf("renders of the same display text should share one entry, got %d", r.cache.Len())
	}
}

func TestRenderContent_RendererPoolBounded(t *testing.T) {
	r := NewRenderer("notty")
	for w := 40; w < 40+maxRenderers+2; w++ {
		r.RenderContent("text", w)
	}
	if n := len(r.renderers); n > maxRenderers {
		t.Fatalf("renderers = %d, want at most %d", n, maxRenderers)
	}
}

func TestRenderContent_Empty(t *testing.T) {
	r := NewRenderer("")
	if got := r.RenderContent("", 80); len(got) != 0 {
		t.Fatalf("RenderContent(\"\") = %#v", got)
	}
}
