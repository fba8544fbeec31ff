package monitor

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Focus    key.Binding
	Send     key.Binding
	Approve  key.Binding
	Skip     key.Binding
	CopyText key.Binding
	CopyCmd  key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev session")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next session")),
		Focus:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Approve:  key.NewBinding(key.WithKeys("ctrl+a"), key.WithHelp("ctrl+a", "approve")),
		Skip:     key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "skip")),
		CopyText: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy reply")),
		CopyCmd:  key.NewBinding(key.WithKeys("Y"), key.WithHelp("Y", "copy command")),
		Refresh:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Focus, k.Send, k.Approve, k.Skip, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Focus},
		{k.Send, k.Approve, k.Skip},
		{k.CopyText, k.CopyCmd, k.Refresh},
		{k.Help, k.Quit},
	}
}
