package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wilbur182/chatrelay/internal/adapter"
)

func inboxWith(counts ...int) *adapter.Inbox {
	inbox := &adapter.Inbox{LastUpdated: time.Now()}
	for i, n := range counts {
		msgs := make([]adapter.ChatMessage, n)
		inbox.Sessions = append(inbox.Sessions, adapter.ChatSession{
			SessionID:    string(rune('a' + i)),
			Messages:     msgs,
			MessageCount: n,
		})
		inbox.TotalMessages += n
	}
	return inbox
}

type recorder struct {
	mu        sync.Mutex
	published []*adapter.Inbox
	ch        chan *adapter.Inbox
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan *adapter.Inbox, 16)}
}

func (r *recorder) publish(inbox *adapter.Inbox) {
	r.mu.Lock()
	r.published = append(r.published, inbox)
	r.mu.Unlock()
	select {
	case r.ch <- inbox:
	default:
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func TestPollPublishesOnlyOnChange(t *testing.T) {
	current := inboxWith(2)
	rec := newRecorder()
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return current, nil },
		Publish: rec.publish,
	}, nil, nil)

	if !d.Poll() {
		t.Fatalf("first poll did not publish")
	}
	current = inboxWith(2)
	if d.Poll() {
		t.Fatalf("poll with unchanged fingerprint published")
	}
	current = inboxWith(2, 1)
	if !d.Poll() {
		t.Fatalf("poll after change did not publish")
	}
	if rec.count() != 2 {
		t.Fatalf("published %d times, want 2", rec.count())
	}
}

func TestRefreshAlwaysPublishes(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return inboxWith(1), nil },
		Publish: rec.publish,
		Active:  func() bool { return false },
	}, nil, nil)

	for range 2 {
		if _, err := d.Refresh(TriggerRefresh); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if rec.count() != 2 {
		t.Fatalf("published %d times, want 2", rec.count())
	}
	// A refresh records the fingerprint, so an identical poll is quiet.
	d.hooks.Active = nil
	if d.Poll() {
		t.Fatalf("poll after refresh published an unchanged inbox")
	}
}

func TestNoSubscribersSkipsWork(t *testing.T) {
	var builds atomic.Int32
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { builds.Add(1); return inboxWith(1), nil },
		Active:  func() bool { return false },
	}, nil, nil)

	if d.Poll() {
		t.Fatalf("poll published with no subscribers")
	}
	d.fireEdge()
	if n := builds.Load(); n != 0 {
		t.Fatalf("rebuilt %d times with no subscribers", n)
	}
}

func TestRebuildErrorIsNotPublished(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return nil, errors.New("disk on fire") },
		Publish: rec.publish,
	}, nil, nil)
	if d.Poll() {
		t.Fatalf("failed rebuild published")
	}
	if _, err := d.Refresh(TriggerRefresh); err == nil {
		t.Fatalf("Refresh error = nil")
	}
	if rec.count() != 0 {
		t.Fatalf("published %d times", rec.count())
	}
}

func TestStaleRebuildIsNotPublished(t *testing.T) {
	older, newer := inboxWith(1), inboxWith(1, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	rec := newRecorder()
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				return older, nil
			}
			return newer, nil
		},
		Publish: rec.publish,
	}, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Refresh(TriggerEdge)
	}()
	<-entered
	if _, err := d.Refresh(TriggerRefresh); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	close(release)
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.published) != 1 || rec.published[0] != newer {
		t.Fatalf("published %d inboxes, want only the newer one", len(rec.published))
	}
}

func TestEdgeTriggerDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	d := New(Config{SessionDir: dir, Debounce: 50 * time.Millisecond, Settle: 10 * time.Millisecond}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return inboxWith(1), nil },
		Publish: rec.publish,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Non-session files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "s.jsonl")
	for i := range 5 {
		if err := os.WriteFile(path, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("no publish after file writes")
	}
	time.Sleep(200 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("published %d times for one burst, want 1", n)
	}
	if n := d.EdgeTriggers(); n != 1 {
		t.Fatalf("EdgeTriggers = %d, want 1", n)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestSessionDirResolvedAfterStart(t *testing.T) {
	dir := t.TempDir()
	var resolves atomic.Int32
	changed := make(chan []adapter.Event, 16)
	d := New(Config{Debounce: 20 * time.Millisecond, PollInterval: 20 * time.Millisecond}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return inboxWith(1), nil },
		SessionDir: func() (string, error) {
			// The editor creates the directory on the third look.
			if resolves.Add(1) < 3 {
				return "", nil
			}
			return dir, nil
		},
		Changed: func(events []adapter.Event) { changed <- events },
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for resolves.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("session dir resolved %d times, want 3", resolves.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "s1.jsonl"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case events := <-changed:
			if len(events) == 1 && events[0].Type == adapter.EventPoll {
				continue
			}
			if len(events) != 1 || events[0].SessionID != "s1" || events[0].Type != adapter.EventSessionCreated {
				t.Fatalf("events = %+v", events)
			}
			if n := resolves.Load(); n != 3 {
				t.Fatalf("resolved %d times, want no lookups once watching", n)
			}
			return
		case <-timeout:
			t.Fatalf("no edge publish for a file in a late session dir")
		}
	}
}

func TestPollReportsPollEvent(t *testing.T) {
	var got [][]adapter.Event
	d := New(Config{}, Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return inboxWith(1), nil },
		Changed: func(events []adapter.Event) { got = append(got, events) },
	}, nil, nil)
	d.Poll()
	d.Poll()
	if len(got) != 1 || got[0][0].Type != adapter.EventPoll {
		t.Fatalf("changes = %+v, want one poll event", got)
	}
}

func TestToEventAndMerge(t *testing.T) {
	path := filepath.Join("sessions", "abc.jsonl")
	tests := []struct {
		name string
		ops  []fsnotify.Op
		want adapter.EventType
	}{
		{"create", []fsnotify.Op{fsnotify.Create}, adapter.EventSessionCreated},
		{"create then write", []fsnotify.Op{fsnotify.Create, fsnotify.Write}, adapter.EventSessionCreated},
		{"write", []fsnotify.Op{fsnotify.Write, fsnotify.Write}, adapter.EventSessionUpdated},
		{"write then remove", []fsnotify.Op{fsnotify.Write, fsnotify.Remove}, adapter.EventSessionRemoved},
		{"rename", []fsnotify.Op{fsnotify.Rename}, adapter.EventSessionRemoved},
		{"remove then create", []fsnotify.Op{fsnotify.Remove, fsnotify.Create}, adapter.EventSessionUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := toEvent(fsnotify.Event{Name: path, Op: tt.ops[0]})
			for _, op := range tt.ops[1:] {
				ev = mergeEvent(ev, toEvent(fsnotify.Event{Name: path, Op: op}))
			}
			if ev.Type != tt.want || ev.SessionID != "abc" || ev.Path != path {
				t.Fatalf("event = %+v, want %s for abc", ev, tt.want)
			}
		})
	}
}

func TestRunTwiceFails(t *testing.T) {
	d := New(Config{}, Hooks{Rebuild: func() (*adapter.Inbox, error) { return inboxWith(), nil }}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		running := d.running
		d.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("detector never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := d.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run = %v, want ErrRunning", err)
	}
}

func TestFingerprint(t *testing.T) {
	a, b := inboxWith(2, 3), inboxWith(2, 3)
	b.LastUpdated = a.LastUpdated.Add(time.Hour)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("fingerprint depends on LastUpdated")
	}

	c := inboxWith(2, 3)
	c.Sessions[1].Messages[2] = adapter.ChatMessage{
		Role:           adapter.RoleAssistant,
		PendingCommand: &adapter.PendingCommand{Command: "ls", ToolCallID: "t"},
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatalf("fingerprint ignores pending command")
	}

	d := inboxWith(2, 3)
	d.Sessions[1].Messages[2].Text = "streaming"
	if Fingerprint(a) == Fingerprint(d) {
		t.Fatalf("fingerprint ignores growth of the last message")
	}
	if Fingerprint(nil) != 0 {
		t.Fatalf("Fingerprint(nil) != 0")
	}
}
