package monitor

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/client"
)

// InboxMsg carries a fetched or streamed inbox.
type InboxMsg struct {
	Inbox *adapter.Inbox
	Epoch uint64 // Epoch of the stream that produced it (for stale detection)
}

// StreamClosedMsg signals that the event stream ended.
type StreamClosedMsg struct {
	Epoch uint64
}

// ReconnectMsg asks the model to reopen the event stream.
type ReconnectMsg struct{}

// ErrMsg carries an error from a background command.
type ErrMsg struct {
	Err error
}

// SendDoneMsg reports a completed send.
type SendDoneMsg struct {
	Result *client.SendResult
	Err    error
}

// ApproveDoneMsg reports an approve or skip.
type ApproveDoneMsg struct {
	Approve  bool
	Response *client.ApproveResponse
	Err      error
}

// CopiedMsg reports a clipboard copy.
type CopiedMsg struct {
	What string
	Err  error
}

var _ tea.Msg = InboxMsg{}
var _ tea.Msg = StreamClosedMsg{}
var _ tea.Msg = ReconnectMsg{}
var _ tea.Msg = ErrMsg{}
var _ tea.Msg = SendDoneMsg{}
var _ tea.Msg = ApproveDoneMsg{}
var _ tea.Msg = CopiedMsg{}
