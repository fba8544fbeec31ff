package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/markdown"
)

// renderMessages renders a session's turns for the message pane.
func renderMessages(s *adapter.ChatSession, width int, md *markdown.Renderer) string {
	if s == nil || len(s.Messages) == 0 {
		return emptyStyle.Width(width).Render("\n\nNo messages yet")
	}

	var sb strings.Builder
	for i, msg := range s.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if msg.Role == adapter.RoleUser {
			sb.WriteString(userPrefixStyle.Render("> "))
			sb.WriteString(userTextStyle.Render(markdown.PlainText(msg.Text)))
			continue
		}
		sb.WriteString(renderAssistant(msg, width, md))
	}
	return sb.String()
}

func renderAssistant(msg adapter.ChatMessage, width int, md *markdown.Renderer) string {
	var parts []string
	if len(msg.Timeline) > 0 {
		for _, seg := range msg.Timeline {
			switch seg.Kind {
			case adapter.SegmentText:
				parts = append(parts, strings.Join(md.RenderContent(seg.Text, width), "\n"))
			case adapter.SegmentThinking:
				if seg.Thinking != nil {
					parts = append(parts, thinkingLine(*seg.Thinking, width))
				}
			case adapter.SegmentTool:
				if seg.Tool != nil {
					parts = append(parts, toolLine(*seg.Tool, width))
				}
			}
		}
	} else {
		if msg.Thinking != nil {
			for _, tp := range msg.Thinking.ThinkingParts {
				parts = append(parts, thinkingLine(tp, width))
			}
			for _, tool := range msg.Thinking.ToolInvocations {
				parts = append(parts, toolLine(tool, width))
			}
		}
		if msg.Text != "" {
			parts = append(parts, strings.Join(md.RenderContent(msg.Text, width), "\n"))
		}
	}
	if msg.State == adapter.StatePending && msg.PendingCommand == nil {
		parts = append(parts, thinkingStyle.Render("…"))
	}
	return strings.Join(parts, "\n")
}

func thinkingLine(tp adapter.ThinkingPart, width int) string {
	label := tp.GeneratedTitle
	if label == "" {
		label, _, _ = strings.Cut(strings.TrimSpace(tp.Value), "\n")
	}
	return ansi.Truncate(thinkingStyle.Render("∴ "+label), width, "…")
}

func toolLine(tool adapter.ToolInvocation, width int) string {
	style := toolStyle
	if tool.TitleMissing {
		style = toolMissing
	}
	mark := "⚙"
	if tool.IsComplete {
		mark = "✓"
	}
	return ansi.Truncate(style.Render(mark+" "+markdown.PlainText(tool.Title)), width, "…")
}

// renderSessionItem renders one two-line entry of the session list.
func renderSessionItem(s adapter.ChatSession, width int, selected bool, now time.Time) string {
	if width < 4 {
		width = 4
	}
	title := runewidth.Truncate(s.Title, width-2, "…")
	title = runewidth.FillRight(title, width-2)
	marker := "  "
	style := listItemStyle
	if selected {
		marker = "▸ "
		style = listSelectedStyle
	}
	meta := fmt.Sprintf("%d msgs · %s", s.MessageCount, ago(s.LastMessageAt, now))
	if pendingCommandOf(&s) != nil {
		meta += " · approval"
	}
	meta = runewidth.FillRight(runewidth.Truncate(meta, width-2, "…"), width-2)
	return style.Render(marker+title) + "\n" + listMetaStyle.Render("  "+meta)
}

// ago formats the age of t relative to now.
func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// pendingCommandOf returns the pending command on the session's last
// assistant turn.
func pendingCommandOf(s *adapter.ChatSession) *adapter.PendingCommand {
	if s == nil {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == adapter.RoleAssistant {
			return s.Messages[i].PendingCommand
		}
	}
	return nil
}

// lastReply returns the text of the session's last assistant turn.
func lastReply(s *adapter.ChatSession) string {
	if s == nil {
		return ""
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == adapter.RoleAssistant && s.Messages[i].Text != "" {
			return markdown.PlainText(s.Messages[i].Text)
		}
	}
	return ""
}
