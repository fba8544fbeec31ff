package adapter

import "time"

// Source provides normalized chat sessions for a workspace.
type Source interface {
	ID() string
	Name() string
	Detect(workspaceRoot string) (bool, error)
	SessionDir(workspaceRoot string) (string, error)
	ListSessions(workspaceRoot string) ([]ChatSession, error)
	BuildInbox(workspaceRoot string) (*Inbox, error)
}

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ResponseState mirrors the editor's model state for an assistant turn.
type ResponseState string

const (
	StatePending   ResponseState = "pending"
	StateComplete  ResponseState = "complete"
	StateCancelled ResponseState = "cancelled"
	StateFailed    ResponseState = "failed"
)

// ChatMessage is one conversational turn.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Assistant turns only.
	Model          string            `json:"model,omitempty"`
	State          ResponseState     `json:"state,omitempty"`
	PendingCommand *PendingCommand   `json:"pendingCommand,omitempty"`
	Thinking       *ThinkingSection  `json:"thinking,omitempty"`
	Timeline       []TimelineSegment `json:"timeline,omitempty"`
}

// ThinkingPart is one non-empty reasoning block.
type ThinkingPart struct {
	ID             string `json:"id,omitempty"`
	Value          string `json:"value"`
	GeneratedTitle string `json:"generatedTitle,omitempty"`
}

// ThinkingSection groups the reasoning and tool activity of a turn.
type ThinkingSection struct {
	ThinkingParts   []ThinkingPart   `json:"thinkingParts"`
	ToolInvocations []ToolInvocation `json:"toolInvocations"`
}

// ToolKind discriminates tool-specific payloads.
type ToolKind string

const (
	ToolKindGeneric  ToolKind = ""
	ToolKindTerminal ToolKind = "terminal"
	ToolKindTodoList ToolKind = "todoList"
)

// ToolInvocation records the assistant invoking a tool mid-response.
type ToolInvocation struct {
	ToolID            string `json:"toolId"`
	ToolCallID        string `json:"toolCallId"`
	InvocationMessage string `json:"invocationMessage,omitempty"`
	PastTenseMessage  string `json:"pastTenseMessage,omitempty"`
	// Title is the display title resolved from the messages above or the
	// tool-specific detail text. TitleMissing marks a record whose title
	// had to fall back to the tool ID.
	Title        string   `json:"title"`
	TitleMissing bool     `json:"titleMissing,omitempty"`
	IsConfirmed  bool     `json:"isConfirmed"`
	IsComplete   bool     `json:"isComplete"`
	Kind         ToolKind `json:"kind,omitempty"`

	Terminal *TerminalDetails `json:"terminal,omitempty"`
	TodoList []TodoItem       `json:"todoList,omitempty"`
}

// TerminalDetails is the payload of a terminal tool invocation.
type TerminalDetails struct {
	CommandLine string `json:"commandLine"`
	Language    string `json:"language,omitempty"`
	Output      string `json:"output,omitempty"`
	// Executed is true once the editor recorded terminal execution state.
	Executed bool `json:"executed"`
	ExitCode *int `json:"exitCode,omitempty"`
}

// TodoItem is one entry of a todo-list tool invocation.
type TodoItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// PendingCommand is a terminal command awaiting human approval.
type PendingCommand struct {
	Command    string `json:"command"`
	Language   string `json:"language,omitempty"`
	ToolCallID string `json:"toolCallId"`
}

// SegmentKind discriminates TimelineSegment.
type SegmentKind string

const (
	SegmentText     SegmentKind = "text"
	SegmentThinking SegmentKind = "thinking"
	SegmentTool     SegmentKind = "tool"
)

// TimelineSegment is one element of an assistant turn in emission order.
type TimelineSegment struct {
	Kind     SegmentKind     `json:"kind"`
	Text     string          `json:"text,omitempty"`
	Thinking *ThinkingPart   `json:"thinking,omitempty"`
	Tool     *ToolInvocation `json:"tool,omitempty"`
}

// ChatSession is one conversation persisted as one file.
type ChatSession struct {
	SessionID     string        `json:"sessionId"`
	FilePath      string        `json:"filePath"`
	Title         string        `json:"title"`
	CreatedAt     time.Time     `json:"createdAt,omitzero"`
	LastMessageAt time.Time     `json:"lastMessageAt,omitzero"`
	Messages      []ChatMessage `json:"messages"`
	MessageCount  int           `json:"messageCount"`
	LastModel     string        `json:"lastModel,omitempty"`
}

// Inbox is the aggregated view of all sessions of one workspace.
type Inbox struct {
	WorkspaceHash string        `json:"workspaceHash"`
	WorkspacePath string        `json:"workspacePath"`
	Sessions      []ChatSession `json:"sessions"`
	TotalMessages int           `json:"totalMessages"`
	LastUpdated   time.Time     `json:"lastUpdated"`
	Skipped       []SkippedFile `json:"skipped,omitempty"`
	Stats         InboxStats    `json:"stats"`
}

// SkippedFile names a session file that contributed no session.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// InboxStats counts what an assembly pass saw and dropped.
type InboxStats struct {
	FilesScanned     int            `json:"filesScanned"`
	FilesSkipped     int            `json:"filesSkipped"`
	LinesSkipped     int            `json:"linesSkipped"`
	UntitledTools    int            `json:"untitledTools"`
	UnknownItemKinds map[string]int `json:"unknownItemKinds,omitempty"`
}

// Event represents a change in session data.
type Event struct {
	Type      EventType
	SessionID string
	Path      string
}

// EventType identifies the kind of session event.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionUpdated EventType = "session_updated"
	EventSessionRemoved EventType = "session_removed"
	EventPoll           EventType = "poll"
)
