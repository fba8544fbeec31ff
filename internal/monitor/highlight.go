package monitor

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

const syntaxTheme = "monokai"

// commandHighlighter colors pending terminal commands with Chroma.
type commandHighlighter struct {
	style *chroma.Style
}

func newCommandHighlighter() *commandHighlighter {
	style := styles.Get(syntaxTheme)
	if style == nil {
		style = styles.Fallback
	}
	return &commandHighlighter{style: style}
}

// lexerFor maps the editor's terminal language to a lexer, defaulting to
// a POSIX shell.
func lexerFor(language string) chroma.Lexer {
	var lexer chroma.Lexer
	switch strings.ToLower(language) {
	case "", "sh", "shell", "bash", "zsh":
		lexer = lexers.Get("bash")
	case "pwsh", "powershell":
		lexer = lexers.Get("powershell")
	default:
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// Highlight renders command with ANSI colors. Tokenizer failures fall
// back to the plain text.
func (h *commandHighlighter) Highlight(command, language string) string {
	iterator, err := lexerFor(language).Tokenise(nil, command)
	if err != nil {
		return command
	}

	var sb strings.Builder
	for _, token := range iterator.Tokens() {
		text := strings.TrimSuffix(token.Value, "\n")
		if text == "" {
			continue
		}
		sb.WriteString(h.tokenStyle(token.Type).Render(text))
	}
	return sb.String()
}

// tokenStyle converts a Chroma token type to a lipgloss style.
func (h *commandHighlighter) tokenStyle(tokenType chroma.TokenType) lipgloss.Style {
	entry := h.style.Get(tokenType)
	style := lipgloss.NewStyle()
	if entry.Colour.IsSet() {
		style = style.Foreground(lipgloss.Color(entry.Colour.String()))
	}
	if entry.Bold == chroma.Yes {
		style = style.Bold(true)
	}
	return style
}
