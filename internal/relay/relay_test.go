package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/controller"
	"github.com/wilbur182/chatrelay/internal/watcher"
)

type fakeSource struct {
	mu     sync.Mutex
	builds int
	inbox  func(n int) *adapter.Inbox
}

func (f *fakeSource) ID() string                        { return "fake" }
func (f *fakeSource) Name() string                      { return "Fake" }
func (f *fakeSource) Detect(string) (bool, error)       { return true, nil }
func (f *fakeSource) SessionDir(string) (string, error) { return "", nil }
func (f *fakeSource) ListSessions(string) ([]adapter.ChatSession, error) {
	inbox, _ := f.BuildInbox("")
	return inbox.Sessions, nil
}

func (f *fakeSource) BuildInbox(string) (*adapter.Inbox, error) {
	f.mu.Lock()
	f.builds++
	n := f.builds
	f.mu.Unlock()
	return f.inbox(n), nil
}

type fakeController struct {
	mu        sync.Mutex
	submitted []string
	approvals []bool
	err       error
}

func (c *fakeController) Submit(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, text)
	return c.err
}

func (c *fakeController) Approve(_ context.Context, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals = append(c.approvals, approve)
	return c.err
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func session(id string, msgs ...adapter.ChatMessage) adapter.ChatSession {
	s := adapter.ChatSession{SessionID: id, Messages: msgs, MessageCount: len(msgs)}
	if len(msgs) > 0 {
		s.LastMessageAt = msgs[len(msgs)-1].Timestamp
	}
	return s
}

func inboxOf(sessions ...adapter.ChatSession) *adapter.Inbox {
	total := 0
	for _, s := range sessions {
		total += s.MessageCount
	}
	return &adapter.Inbox{Sessions: sessions, TotalMessages: total}
}

func staticInbox(inbox *adapter.Inbox) func(int) *adapter.Inbox {
	return func(int) *adapter.Inbox { return inbox }
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestNewRequiresSource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without source")
	}
}

func growingInbox(n int) *adapter.Inbox {
	msgs := make([]adapter.ChatMessage, n)
	for i := range msgs {
		msgs[i] = adapter.ChatMessage{Role: adapter.RoleUser, Text: "m", Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	return inboxOf(session("s", msgs...))
}

func TestInboxRebuildsWithoutSubscribers(t *testing.T) {
	src := &fakeSource{inbox: growingInbox}
	r, err := New(Config{Source: src, Watch: watcher.Config{PollInterval: 20 * time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// The detector is idle with nobody subscribed, so each read must go
	// to disk.
	first, err := r.Inbox()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Inbox()
	if err != nil {
		t.Fatal(err)
	}
	if second.TotalMessages != first.TotalMessages+1 {
		t.Fatalf("TotalMessages = %d then %d, want the second read rebuilt", first.TotalMessages, second.TotalMessages)
	}
}

func TestInboxCachedWhileSubscribed(t *testing.T) {
	src := &fakeSource{inbox: growingInbox}
	r, _ := New(Config{Source: src})
	_, cancel := r.Subscribe()
	defer cancel()

	first, err := r.Inbox()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Inbox()
	if err != nil {
		t.Fatal(err)
	}
	if first != second || src.builds != 1 {
		t.Fatalf("builds = %d, want the published inbox reused", src.builds)
	}
}

func TestSubscribeReceivesNewest(t *testing.T) {
	src := &fakeSource{inbox: func(n int) *adapter.Inbox {
		msgs := make([]adapter.ChatMessage, n)
		for i := range msgs {
			msgs[i] = adapter.ChatMessage{Role: adapter.RoleUser, Text: "m", Timestamp: base.Add(time.Duration(i) * time.Second)}
		}
		return inboxOf(session("s", msgs...))
	}}
	r, _ := New(Config{Source: src})

	ch, cancel := r.Subscribe()
	defer cancel()
	if r.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d", r.Subscribers())
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Refresh(); err != nil {
			t.Fatal(err)
		}
	}
	got := <-ch
	if got.TotalMessages != 3 {
		t.Fatalf("received inbox with %d messages, want newest (3)", got.TotalMessages)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second delivery: %d", extra.TotalMessages)
	default:
	}

	cancel()
	cancel()
	if r.Subscribers() != 0 {
		t.Fatalf("Subscribers after cancel = %d", r.Subscribers())
	}
}

func TestSubscribeGetsCurrentInbox(t *testing.T) {
	src := &fakeSource{inbox: staticInbox(inboxOf())}
	r, _ := New(Config{Source: src})
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}
	ch, cancel := r.Subscribe()
	defer cancel()
	select {
	case <-ch:
	default:
		t.Fatal("subscriber should receive the current inbox immediately")
	}
}

func TestSendWithoutWait(t *testing.T) {
	ctrl := &fakeController{}
	r, _ := New(Config{Source: &fakeSource{inbox: staticInbox(inboxOf())}, Controller: ctrl, Clock: func() time.Time { return base }})

	res, err := r.Send(context.Background(), SendRequest{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Submitted || !res.SubmittedAt.Equal(base) || res.Reply != nil {
		t.Fatalf("result = %+v", res)
	}
	if len(ctrl.submitted) != 1 || ctrl.submitted[0] != "hello" {
		t.Fatalf("submitted = %v", ctrl.submitted)
	}
}

func TestSendAndWaitForReply(t *testing.T) {
	src := &fakeSource{inbox: func(n int) *adapter.Inbox {
		if n < 3 {
			return inboxOf()
		}
		return inboxOf(session("s1",
			adapter.ChatMessage{Role: adapter.RoleUser, Text: "hello", Timestamp: base.Add(time.Second)},
			adapter.ChatMessage{Role: adapter.RoleAssistant, Text: "hi!", Timestamp: base.Add(2 * time.Second), State: adapter.StateComplete},
		))
	}}
	ctrl := &fakeController{}
	r, _ := New(Config{Source: src, Controller: ctrl, Clock: func() time.Time { return base }, Sleep: noSleep})

	res, err := r.Send(context.Background(), SendRequest{Text: "hello", Wait: true, MaxWait: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply == nil || !res.Reply.Success {
		t.Fatalf("reply = %+v", res.Reply)
	}
	if res.Reply.AssistantReply != "hi!" || res.Reply.UserMessage != "hello" {
		t.Fatalf("reply = %+v", res.Reply)
	}
}

func TestSendControllerError(t *testing.T) {
	r, _ := New(Config{Source: &fakeSource{inbox: staticInbox(inboxOf())}})
	if _, err := r.Send(context.Background(), SendRequest{Text: "x"}); !errors.Is(err, controller.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestApprove(t *testing.T) {
	pending := &adapter.PendingCommand{Command: "make test", ToolCallID: "call-1"}
	withPending := inboxOf(session("s1",
		adapter.ChatMessage{Role: adapter.RoleUser, Text: "run tests", Timestamp: base},
		adapter.ChatMessage{Role: adapter.RoleAssistant, Timestamp: base.Add(time.Second), PendingCommand: pending},
	))
	withoutPending := inboxOf(session("s1",
		adapter.ChatMessage{Role: adapter.RoleAssistant, Text: "done", Timestamp: base},
	))

	tests := []struct {
		name    string
		inbox   *adapter.Inbox
		approve bool
		wantErr error
	}{
		{"approve pending", withPending, true, nil},
		{"skip pending", withPending, false, nil},
		{"nothing pending", withoutPending, true, ErrNoPendingCommand},
		{"empty inbox", inboxOf(), true, ErrNoPendingCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			r, _ := New(Config{Source: &fakeSource{inbox: staticInbox(tt.inbox)}, Controller: ctrl})
			got, err := r.Approve(context.Background(), tt.approve)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if len(ctrl.approvals) != 0 {
					t.Fatal("controller called without pending command")
				}
				return
			}
			if got.ToolCallID != "call-1" {
				t.Fatalf("pending = %+v", got)
			}
			if len(ctrl.approvals) != 1 || ctrl.approvals[0] != tt.approve {
				t.Fatalf("approvals = %v", ctrl.approvals)
			}
		})
	}
}

func TestLeadership(t *testing.T) {
	r, _ := New(Config{Source: &fakeSource{inbox: staticInbox(inboxOf())}})
	if r.Leadership().Role() != "follower" {
		t.Fatal("new relay should be follower")
	}
	r.SetLeadership(Leadership{Leader: true, Token: 4})
	if l := r.Leadership(); l.Role() != "leader" || l.Token != 4 {
		t.Fatalf("leadership = %+v", l)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{inbox: staticInbox(inboxOf())}
	r, _ := New(Config{Source: src})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if src.builds < 1 {
		t.Fatal("Run should perform the initial build")
	}
}
