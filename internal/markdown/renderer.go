// Package markdown renders assistant replies for the terminal.
package markdown

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
	"github.com/wilbur182/chatrelay/internal/adapter/cache"
)

const (
	// MinWidthForMarkdown is the narrowest width rendered with glamour.
	// Narrower panes get plain wrapped text.
	MinWidthForMarkdown = 30

	// MaxCacheEntries bounds the render cache; the least recently used
	// render is evicted first.
	MaxCacheEntries = 200

	// DefaultStyle is the glamour style used when none is configured.
	DefaultStyle = "dark"

	// maxRenderers bounds the per-width glamour renderers kept around.
	maxRenderers = 4
)

// Renderer turns reply markdown into styled terminal lines. Renders are
// cached by content and width, and one glamour renderer is kept per
// width so the monitor pane and full-width output do not evict each
// other.
type Renderer struct {
	style  string
	logger *slog.Logger
	cache  *cache.Cache[[]string]

	mu        sync.Mutex
	renderers map[int]*glamour.TermRenderer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger for render failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// NewRenderer creates a renderer using a glamour standard style name
// ("dark", "light", "notty"). Empty selects DefaultStyle.
func NewRenderer(style string, opts ...Option) *Renderer {
	if style == "" {
		style = DefaultStyle
	}
	r := &Renderer{
		style:     style,
		logger:    slog.Default(),
		cache:     cache.New[[]string](MaxCacheEntries),
		renderers: make(map[int]*glamour.TermRenderer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderContent renders markdown content to styled lines. File markers
// are shown as inline code.
func (r *Renderer) RenderContent(content string, width int) []string {
	content = ReplaceFileMarkers(content, func(_, name string) string {
		return "`" + name + "`"
	})
	if content == "" {
		return []string{}
	}
	if width < MinWidthForMarkdown {
		return WrapText(content, width)
	}

	key := cacheKey(content, width)
	if lines, ok := r.cache.Get(key, cache.Fingerprint{}); ok {
		return lines
	}

	lines, err := r.render(content, width)
	if err != nil {
		r.logger.Debug("markdown render failed", "width", width, "err", err)
		return WrapText(content, width)
	}
	r.cache.Set(key, lines, cache.Fingerprint{})
	return lines
}

func (r *Renderer) render(content string, width int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.renderers[width]
	if !ok {
		var err error
		tr, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return nil, err
		}
		if len(r.renderers) >= maxRenderers {
			clear(r.renderers)
		}
		r.renderers[width] = tr
	}

	out, err := tr.Render(content)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(out, "\n\r\t "), "\n"), nil
}

// cacheKey hashes the marker-free content; the width is kept readable.
func cacheKey(content string, width int) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16) + "@" + strconv.Itoa(width)
}

// WrapText wraps text to maxWidth display cells, keeping line breaks and
// breaking words longer than a line. Whitespace-only text yields nil.
func WrapText(text string, maxWidth int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = strings.TrimRight(text, "\n")
	if maxWidth <= 0 {
		return strings.Split(text, "\n")
	}
	return strings.Split(ansi.Wrap(text, maxWidth, ""), "\n")
}
