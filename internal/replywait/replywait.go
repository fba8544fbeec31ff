// Package replywait blocks until an assistant reply newer than a given
// instant shows up in a workspace's Inbox.
package replywait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
)

const (
	DefaultMaxWait      = 120 * time.Second
	DefaultPollInterval = time.Second
)

// ErrReplyTimeout means no qualifying reply appeared before the deadline.
var ErrReplyTimeout = errors.New("replywait: no reply before deadline")

// Builder assembles a workspace's Inbox.
type Builder interface {
	BuildInbox(workspaceRoot string) (*adapter.Inbox, error)
}

// Result is the outcome of WaitForReply.
type Result struct {
	Success        bool                    `json:"success"`
	SessionID      string                  `json:"sessionId,omitempty"`
	UserMessage    string                  `json:"userMessage,omitempty"`
	AssistantReply string                  `json:"assistantReply,omitempty"`
	PendingCommand *adapter.PendingCommand `json:"pendingCommand,omitempty"`
	RepliedAt      time.Time               `json:"repliedAt,omitzero"`
	WaitedMs       int64                   `json:"waitedMs"`
	Error          string                  `json:"error,omitempty"`

	// Err is the typed failure: ErrReplyTimeout or a context error.
	Err error `json:"-"`
}

// Coordinator polls a Builder for replies.
type Coordinator struct {
	builder Builder
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleep replaces the sleep between polls. It must return early with
// ctx.Err() when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(b Builder, opts ...Option) *Coordinator {
	c := &Coordinator{
		builder: b,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForReply rebuilds the Inbox every pollInterval until an assistant
// message stamped after `after` exists, maxWait elapses, or ctx is done.
// Failures are reported in the Result, never as a panic or a hang.
func (c *Coordinator) WaitForReply(ctx context.Context, workspaceRoot string, after time.Time, maxWait, pollInterval time.Duration) Result {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait < 0 {
		maxWait = 0
	}
	start := c.now()
	deadline := start.Add(maxWait)

	for attempt := 1; ; attempt++ {
		inbox, err := c.builder.BuildInbox(workspaceRoot)
		if err != nil {
			// A read racing the editor's writes is transient.
			c.logger.Debug("reply poll failed", "attempt", attempt, "err", err)
		} else if res, ok := FindReply(inbox, after); ok {
			res.WaitedMs = c.now().Sub(start).Milliseconds()
			c.logger.Debug("reply found", "session", res.SessionID, "waitedMs", res.WaitedMs)
			return res
		}

		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			return c.failure(start, fmt.Errorf("%w after %s", ErrReplyTimeout, maxWait), ErrReplyTimeout)
		}
		if err := c.sleep(ctx, min(pollInterval, remaining)); err != nil {
			return c.failure(start, err, err)
		}
	}
}

func (c *Coordinator) failure(start time.Time, err, kind error) Result {
	return Result{
		WaitedMs: c.now().Sub(start).Milliseconds(),
		Error:    err.Error(),
		Err:      kind,
	}
}

// FindReply looks for the most recent finished assistant message stamped
// after `after`, scanning sessions active since then. The user message is
// the nearest one before the reply and may be empty.
func FindReply(inbox *adapter.Inbox, after time.Time) (Result, bool) {
	if inbox == nil {
		return Result{}, false
	}
	for _, s := range inbox.Sessions {
		if !s.LastMessageAt.After(after) {
			continue
		}
		for i := len(s.Messages) - 1; i >= 0; i-- {
			m := s.Messages[i]
			if m.Role != adapter.RoleAssistant || !m.Timestamp.After(after) {
				continue
			}
			// A reply still streaming is not an answer yet, unless it
			// stopped to ask for approval.
			if m.State == adapter.StatePending && m.PendingCommand == nil {
				continue
			}
			res := Result{
				Success:        true,
				SessionID:      s.SessionID,
				AssistantReply: m.Text,
				PendingCommand: m.PendingCommand,
				RepliedAt:      m.Timestamp,
			}
			for j := i - 1; j >= 0; j-- {
				if s.Messages[j].Role == adapter.RoleUser {
					res.UserMessage = s.Messages[j].Text
					break
				}
			}
			return res, true
		}
	}
	return Result{}, false
}
