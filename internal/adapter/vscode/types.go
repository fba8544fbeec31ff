package vscode

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// epochTime decodes epoch milliseconds or an RFC 3339 string.
type epochTime struct {
	time.Time
}

func (t *epochTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
		}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	if ms > 0 && !math.IsInf(ms, 0) {
		t.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}

// messageText is a field that is either a plain string or a markdown
// object {value, uris}.
type messageText struct {
	Value string
	URIs  map[string]rawURI
}

func (m *messageText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &m.Value)
	}
	var obj struct {
		Value string            `json:"value"`
		URIs  map[string]rawURI `json:"uris"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	m.Value, m.URIs = obj.Value, obj.URIs
	return nil
}

// rawURI is a serialized editor URI. Location-shaped values nest the URI
// under "uri".
type rawURI struct {
	Scheme string  `json:"scheme"`
	Path   string  `json:"path"`
	FSPath string  `json:"fsPath"`
	URI    *rawURI `json:"uri"`
}

// filePath returns the most specific path the URI carries.
func (u rawURI) filePath() string {
	if u.URI != nil {
		if p := u.URI.filePath(); p != "" {
			return p
		}
	}
	if u.FSPath != "" {
		return u.FSPath
	}
	return u.Path
}

// confirmation decodes isConfirmed, which is a bool in older files and a
// {type} object in newer ones. Type 0 means not yet confirmed.
type confirmation bool

func (c *confirmation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = false
	case data[0] == '{':
		var obj struct {
			Type *int `json:"type"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*c = confirmation(obj.Type == nil || *obj.Type != 0)
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*c = confirmation(b)
	}
	return nil
}

// looseString decodes strings and numbers as text.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(strings.Trim(string(data), `"`))
	return nil
}

// rawSession is the session header. Requests are decoded one at a time.
type rawSession struct {
	SessionID    string    `json:"sessionId"`
	CustomTitle  string    `json:"customTitle"`
	CreationDate epochTime `json:"creationDate"`
}

type rawRequest struct {
	RequestID  string          `json:"requestId"`
	Timestamp  epochTime       `json:"timestamp"`
	ModelID    string          `json:"modelId"`
	Message    rawUserMessage  `json:"message"`
	Response   json.RawMessage `json:"response"`
	Result     *rawResult      `json:"result"`
	ModelState *rawModelState  `json:"modelState"`
	IsCanceled bool            `json:"isCanceled"`
}

// responseItems splits the response list. A non-array response yields
// nothing.
func (r rawRequest) responseItems() []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(r.Response, &items); err != nil {
		return nil
	}
	return items
}

type rawUserMessage struct {
	Text  *string `json:"text"`
	Parts []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"parts"`
}

type rawResult struct {
	Timings *struct {
		TotalElapsed *float64 `json:"totalElapsed"`
	} `json:"timings"`
	ErrorDetails *struct {
		Message string `json:"message"`
	} `json:"errorDetails"`
}

type rawModelState struct {
	Value       *int      `json:"value"`
	CompletedAt epochTime `json:"completedAt"`
}

// rawItem holds every field any response item kind may carry.
type rawItem struct {
	Kind  *string         `json:"kind"`
	Value json.RawMessage `json:"value"`

	// markdownContent
	Content *messageText `json:"content"`

	// thinking
	ID             string `json:"id"`
	GeneratedTitle string `json:"generatedTitle"`

	// inlineReference
	InlineReference *rawURI `json:"inlineReference"`
	Name            string  `json:"name"`

	// toolInvocationSerialized
	ToolID            string           `json:"toolId"`
	ToolCallID        string           `json:"toolCallId"`
	InvocationMessage messageText      `json:"invocationMessage"`
	PastTenseMessage  messageText      `json:"pastTenseMessage"`
	IsConfirmed       confirmation     `json:"isConfirmed"`
	IsComplete        bool             `json:"isComplete"`
	ToolSpecificData  *rawToolSpecific `json:"toolSpecificData"`
}

type rawToolSpecific struct {
	Kind        string          `json:"kind"`
	CommandLine json.RawMessage `json:"commandLine"`
	Command     string          `json:"command"`
	Language    string          `json:"language"`

	TerminalCommandState *struct {
		ExitCode *int `json:"exitCode"`
	} `json:"terminalCommandState"`
	TerminalCommandOutput *struct {
		Text string `json:"text"`
	} `json:"terminalCommandOutput"`

	TodoList []struct {
		ID     looseString `json:"id"`
		Title  string      `json:"title"`
		Status string      `json:"status"`
	} `json:"todoList"`
}

// command returns the command line the user will run: the user's edit,
// then the tool's rewrite, then the original.
func (d *rawToolSpecific) command() string {
	if len(d.CommandLine) > 0 {
		var s string
		if err := json.Unmarshal(d.CommandLine, &s); err == nil {
			return s
		}
		var cl struct {
			Original   string  `json:"original"`
			UserEdited *string `json:"userEdited"`
			ToolEdited *string `json:"toolEdited"`
		}
		if err := json.Unmarshal(d.CommandLine, &cl); err == nil {
			switch {
			case cl.UserEdited != nil && *cl.UserEdited != "":
				return *cl.UserEdited
			case cl.ToolEdited != nil && *cl.ToolEdited != "":
				return *cl.ToolEdited
			}
			if cl.Original != "" {
				return cl.Original
			}
		}
	}
	return d.Command
}

// isObject reports whether raw is a JSON object.
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
