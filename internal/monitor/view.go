package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	minListLayoutWidth = 70
	inputHeight        = 3
)

// paneWidths returns the widths of the session list and the message pane.
// Narrow terminals drop the list.
func (m *Model) paneWidths() (list, main int) {
	if m.width < minListLayoutWidth {
		return 0, max(m.width, 10)
	}
	return listWidth, max(m.width-listWidth-1, 10)
}

// layout sizes the viewport and input to the current window.
func (m *Model) layout() {
	_, main := m.paneWidths()
	m.input.SetWidth(max(main-4, 10))
	m.input.SetHeight(inputHeight)

	used := 1 + lipgloss.Height(m.help.View(m.keys)) + inputHeight + 2
	if box := m.pendingView(main); box != "" {
		used += lipgloss.Height(box)
	}
	m.viewport.Width = main
	m.viewport.Height = max(m.height-used, 3)
}

// refreshViewport re-renders the selected session, following the tail
// when the view was already at the bottom.
func (m *Model) refreshViewport() {
	m.layout()
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderMessages(m.current(), m.viewport.Width, m.md))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View renders the monitor.
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	list, main := m.paneWidths()

	var right strings.Builder
	right.WriteString(m.viewport.View())
	if box := m.pendingView(main); box != "" {
		right.WriteString("\n")
		right.WriteString(box)
	}
	right.WriteString("\n")
	style := inputStyle
	if m.focus == focusInput {
		style = inputFocus
	}
	right.WriteString(style.Width(main - 2).Render(m.input.View()))

	body := right.String()
	if list > 0 {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.listView(list, lipgloss.Height(body)), body)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.statusView(), m.help.View(m.keys))
}

func (m *Model) listView(width, height int) string {
	var sb strings.Builder
	if m.inbox == nil || len(m.inbox.Sessions) == 0 {
		sb.WriteString(emptyStyle.Width(width).Render("No sessions"))
	} else {
		now := m.now()
		for i, s := range m.inbox.Sessions {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(renderSessionItem(s, width, i == m.selected, now))
		}
	}
	style := listStyle.Width(width).Height(height).MaxHeight(height)
	if m.focus == focusList {
		style = style.BorderForeground(colorPrimary)
	}
	return style.Render(sb.String())
}

func (m *Model) pendingView(width int) string {
	p := pendingCommandOf(m.current())
	if p == nil {
		return ""
	}
	label := pendingLabelStyle.Render("Run command? ctrl+a approve · ctrl+x skip")
	return pendingStyle.Width(max(width-2, 10)).Render(label + "\n" + m.hl.Highlight(p.Command, p.Language))
}

func (m *Model) statusView() string {
	var left string
	switch {
	case m.err != nil:
		left = errorStyle.Render("error: " + m.err.Error())
	case m.sending:
		left = "sending..."
	case m.status != "" && m.now().Sub(m.statusAt) < statusTTL:
		left = m.status
	case m.inbox != nil:
		left = fmt.Sprintf("%d sessions · %d messages", len(m.inbox.Sessions), m.inbox.TotalMessages)
	default:
		left = "connecting..."
	}
	if m.inbox != nil && m.inbox.WorkspacePath != "" {
		left += " · " + m.inbox.WorkspacePath
	}
	return statusStyle.Width(m.width).MaxHeight(1).Render(left)
}
