// Package monitor is a terminal UI for a running relay: it lists the
// workspace's chat sessions, renders their turns, and sends messages or
// answers pending commands through the relay's HTTP API.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/client"
	"github.com/wilbur182/chatrelay/internal/markdown"
)

const (
	listWidth      = 32
	reconnectDelay = 2 * time.Second
	statusTTL      = 4 * time.Second
)

type focusArea int

const (
	focusInput focusArea = iota
	focusList
	focusMessages
)

// API is the relay surface the monitor uses.
type API interface {
	Inbox(ctx context.Context) (*adapter.Inbox, error)
	Refresh(ctx context.Context) (*adapter.Inbox, error)
	Send(ctx context.Context, req client.SendRequest) (*client.SendResult, error)
	Approve(ctx context.Context, approve bool) (*client.ApproveResponse, error)
	StreamInbox(ctx context.Context) (<-chan *adapter.Inbox, error)
}

// Options configures a Model.
type Options struct {
	// WaitForReply makes sends block until the assistant answers.
	WaitForReply bool
	// MarkdownStyle is a glamour style name.
	MarkdownStyle string
}

// Model is the monitor's bubbletea model.
type Model struct {
	api  API
	opts Options
	keys keyMap
	help help.Model

	width  int
	height int
	focus  focusArea

	inbox    *adapter.Inbox
	selected int
	viewport viewport.Model
	input    textarea.Model
	md       *markdown.Renderer
	hl       *commandHighlighter

	sending  bool
	status   string
	statusAt time.Time
	err      error

	epoch        uint64
	streamCancel context.CancelFunc
	stream       <-chan *adapter.Inbox

	now       func() time.Time
	writeClip func(string) error
}

// New creates a Model talking to api.
func New(api API, opts Options) *Model {
	ta := textarea.New()
	ta.Placeholder = "Message the chat panel..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.Focus()

	return &Model{
		api:       api,
		opts:      opts,
		keys:      defaultKeyMap(),
		help:      help.New(),
		viewport:  viewport.New(80, 20),
		input:     ta,
		md:        markdown.NewRenderer(opts.MarkdownStyle),
		hl:        newCommandHighlighter(),
		now:       time.Now,
		writeClip: clipboard.WriteAll,
	}
}

// Init fetches the inbox and opens the event stream.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.fetchInbox(), m.connect())
}

// Close stops the event stream.
func (m *Model) Close() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
}

func (m *Model) fetchInbox() tea.Cmd {
	api := m.api
	epoch := m.epoch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		inbox, err := api.Inbox(ctx)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return InboxMsg{Inbox: inbox, Epoch: epoch}
	}
}

// connect opens a new event stream, invalidating any previous one.
func (m *Model) connect() tea.Cmd {
	m.Close()
	m.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	m.streamCancel = cancel
	stream, err := m.api.StreamInbox(ctx)
	if err != nil {
		m.err = err
		cancel()
		m.streamCancel = nil
		m.stream = nil
		return tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return ReconnectMsg{} })
	}
	m.stream = stream
	return listen(stream, m.epoch)
}

func listen(ch <-chan *adapter.Inbox, epoch uint64) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		inbox, ok := <-ch
		if !ok {
			return StreamClosedMsg{Epoch: epoch}
		}
		return InboxMsg{Inbox: inbox, Epoch: epoch}
	}
}

// Update handles tea messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.refreshViewport()
		return m, nil

	case InboxMsg:
		if msg.Epoch != m.epoch {
			return m, nil
		}
		m.setInbox(msg.Inbox)
		m.err = nil
		return m, listen(m.stream, m.epoch)

	case StreamClosedMsg:
		if msg.Epoch != m.epoch {
			return m, nil
		}
		m.stream = nil
		m.setStatus("event stream closed, reconnecting")
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return ReconnectMsg{} })

	case ReconnectMsg:
		return m, m.connect()

	case ErrMsg:
		m.err = msg.Err
		return m, nil

	case SendDoneMsg:
		m.sending = false
		switch {
		case msg.Err != nil:
			m.err = msg.Err
		case msg.Result != nil && msg.Result.Reply != nil && !msg.Result.Reply.Success:
			m.setStatus("no reply: " + msg.Result.Reply.Error)
		default:
			m.setStatus("sent")
		}
		return m, nil

	case ApproveDoneMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		if msg.Approve {
			m.setStatus("approved")
		} else {
			m.setStatus("skipped")
		}
		return m, nil

	case CopiedMsg:
		if msg.Err != nil {
			m.err = msg.Err
		} else {
			m.setStatus("copied " + msg.What)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Focus):
		m.cycleFocus()
		return m, nil
	case key.Matches(msg, m.keys.Approve):
		return m, m.approve(true)
	case key.Matches(msg, m.keys.Skip):
		return m, m.approve(false)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	}

	if m.focus == focusInput {
		if key.Matches(msg, m.keys.Send) {
			return m, m.send()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil
	case key.Matches(msg, m.keys.CopyText):
		return m, m.copy("reply", lastReply(m.current()))
	case key.Matches(msg, m.keys.CopyCmd):
		cmd := ""
		if p := pendingCommandOf(m.current()); p != nil {
			cmd = p.Command
		}
		return m, m.copy("command", cmd)
	}

	if m.focus == focusList {
		switch {
		case key.Matches(msg, m.keys.Up):
			m.selectSession(m.selected - 1)
		case key.Matches(msg, m.keys.Down):
			m.selectSession(m.selected + 1)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) cycleFocus() {
	m.focus = (m.focus + 1) % 3
	if m.focus == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.sending {
		return nil
	}
	m.input.Reset()
	m.sending = true
	api := m.api
	req := client.SendRequest{Text: text, Wait: m.opts.WaitForReply}
	return func() tea.Msg {
		res, err := api.Send(context.Background(), req)
		return SendDoneMsg{Result: res, Err: err}
	}
}

func (m *Model) approve(approve bool) tea.Cmd {
	if pendingCommandOf(m.current()) == nil {
		m.setStatus("nothing to approve")
		return nil
	}
	api := m.api
	return func() tea.Msg {
		resp, err := api.Approve(context.Background(), approve)
		return ApproveDoneMsg{Approve: approve, Response: resp, Err: err}
	}
}

func (m *Model) refresh() tea.Cmd {
	api := m.api
	epoch := m.epoch
	return func() tea.Msg {
		inbox, err := api.Refresh(context.Background())
		if err != nil {
			return ErrMsg{Err: err}
		}
		return InboxMsg{Inbox: inbox, Epoch: epoch}
	}
}

func (m *Model) copy(what, text string) tea.Cmd {
	if text == "" {
		m.setStatus("nothing to copy")
		return nil
	}
	write := m.writeClip
	return func() tea.Msg {
		if err := write(text); err != nil {
			return CopiedMsg{What: what, Err: fmt.Errorf("clipboard: %w", err)}
		}
		return CopiedMsg{What: what}
	}
}

// setInbox replaces the inbox, keeping the selected session by ID.
func (m *Model) setInbox(inbox *adapter.Inbox) {
	prevID := ""
	if s := m.current(); s != nil {
		prevID = s.SessionID
	}
	m.inbox = inbox
	m.selected = 0
	if inbox != nil {
		for i, s := range inbox.Sessions {
			if s.SessionID == prevID {
				m.selected = i
				break
			}
		}
	}
	m.refreshViewport()
}

func (m *Model) selectSession(i int) {
	if m.inbox == nil || len(m.inbox.Sessions) == 0 {
		return
	}
	m.selected = max(0, min(i, len(m.inbox.Sessions)-1))
	m.refreshViewport()
	m.viewport.GotoBottom()
}

func (m *Model) current() *adapter.ChatSession {
	if m.inbox == nil || m.selected < 0 || m.selected >= len(m.inbox.Sessions) {
		return nil
	}
	return &m.inbox.Sessions[m.selected]
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusAt = m.now()
}

// Run starts the monitor against api and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, api API, opts Options) error {
	m := New(api, opts)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
