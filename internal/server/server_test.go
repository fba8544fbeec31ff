package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/controller"
	"github.com/wilbur182/chatrelay/internal/relay"
)

type fakeBackend struct {
	mu       sync.Mutex
	inbox    *adapter.Inbox
	sendErr  error
	approve  error
	sent     []relay.SendRequest
	subs     []chan *adapter.Inbox
	lead     relay.Leadership
	refreshN int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{inbox: &adapter.Inbox{
		WorkspaceHash: "abc",
		Sessions: []adapter.ChatSession{{
			SessionID: "s1",
			Messages: []adapter.ChatMessage{
				{Role: adapter.RoleUser, Text: "Hello"},
				{Role: adapter.RoleAssistant, Text: "Hi there"},
			},
			MessageCount: 2,
		}},
		TotalMessages: 2,
	}}
}

func (b *fakeBackend) Inbox() (*adapter.Inbox, error) { return b.inbox, nil }

func (b *fakeBackend) Refresh() (*adapter.Inbox, error) {
	b.mu.Lock()
	b.refreshN++
	b.mu.Unlock()
	b.publish(b.inbox)
	return b.inbox, nil
}

func (b *fakeBackend) Send(_ context.Context, req relay.SendRequest) (relay.SendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return relay.SendResult{}, b.sendErr
	}
	b.sent = append(b.sent, req)
	return relay.SendResult{Submitted: true}, nil
}

func (b *fakeBackend) Approve(context.Context, bool) (*adapter.PendingCommand, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.approve != nil {
		return nil, b.approve
	}
	return &adapter.PendingCommand{Command: "ls", ToolCallID: "c1"}, nil
}

func (b *fakeBackend) Subscribe() (<-chan *adapter.Inbox, func()) {
	ch := make(chan *adapter.Inbox, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, func() {}
}

func (b *fakeBackend) Leadership() relay.Leadership { return b.lead }

func (b *fakeBackend) publish(inbox *adapter.Inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- inbox:
		default:
		}
	}
}

func (b *fakeBackend) sentRequests() []relay.SendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]relay.SendRequest(nil), b.sent...)
}

func (b *fakeBackend) refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshN
}

func (b *fakeBackend) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func newTestServer(t *testing.T, b *fakeBackend, origins ...string) *httptest.Server {
	t.Helper()
	s := New(Config{AllowedOrigins: origins, KeepAlive: time.Second}, b)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInboxEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())

	resp, err := http.Get(ts.URL + "/api/inbox")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	var inbox adapter.Inbox
	if err := json.NewDecoder(resp.Body).Decode(&inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.TotalMessages != 2 || inbox.Sessions[0].Messages[1].Text != "Hi there" {
		t.Fatalf("inbox = %+v", inbox)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	b := newFakeBackend()
	ts := newTestServer(t, b)
	resp := post(t, ts.URL+"/api/refresh", "")
	if resp.StatusCode != http.StatusOK || b.refreshes() != 1 {
		t.Fatalf("status = %d refreshes = %d", resp.StatusCode, b.refreshes())
	}

	getResp, err := http.Get(ts.URL + "/api/refresh")
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh status = %d, want 405", getResp.StatusCode)
	}
}

func TestSendEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		sendErr error
		want    int
	}{
		{"ok", `{"text":"hi","wait":true,"maxWaitMs":1500}`, nil, http.StatusOK},
		{"bad json", `{"text":`, nil, http.StatusBadRequest},
		{"empty message", `{"text":""}`, controller.ErrEmptyMessage, http.StatusBadRequest},
		{"no controller", `{"text":"hi"}`, controller.ErrUnsupported, http.StatusNotImplemented},
		{"internal", `{"text":"hi"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.sendErr = tt.sendErr
			ts := newTestServer(t, b)
			resp := post(t, ts.URL+"/api/send", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusOK {
				sent := b.sentRequests()
				if len(sent) != 1 || !sent[0].Wait || sent[0].MaxWait != 1500*time.Millisecond {
					t.Fatalf("sent = %+v", sent)
				}
			}
		})
	}
}

func TestApproveEndpoint(t *testing.T) {
	b := newFakeBackend()
	ts := newTestServer(t, b)

	resp := post(t, ts.URL+"/api/approve", `{"approve":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got approveResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.Approved || got.PendingCommand.Command != "ls" {
		t.Fatalf("response = %+v", got)
	}

	b.mu.Lock()
	b.approve = relay.ErrNoPendingCommand
	b.mu.Unlock()
	resp = post(t, ts.URL+"/api/approve", `{"approve":false}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	b := newFakeBackend()
	b.lead = relay.Leadership{Leader: true, Token: 7}
	ts := newTestServer(t, b)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Role != "leader" || h.Token != 7 {
		t.Fatalf("health = %+v", h)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, newFakeBackend(), "http://allowed.example")

	tests := []struct {
		origin string
		want   int
	}{
		{"", http.StatusOK},
		{"http://allowed.example", http.StatusOK},
		{"http://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/inbox", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("origin %q: status = %d, want %d", tt.origin, resp.StatusCode, tt.want)
		}
		if tt.want == http.StatusOK && tt.origin != "" && resp.Header.Get("Access-Control-Allow-Origin") != tt.origin {
			t.Errorf("origin %q: missing allow header", tt.origin)
		}
	}
}

func TestEventsStream(t *testing.T) {
	b := newFakeBackend()
	ts := newTestServer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for deadline := time.Now().Add(2 * time.Second); b.subscribers() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("no subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.publish(b.inbox)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			if event != "inbox" {
				t.Fatalf("event = %q", event)
			}
			var inbox adapter.Inbox
			if err := json.Unmarshal([]byte(v), &inbox); err != nil {
				t.Fatal(err)
			}
			if inbox.WorkspaceHash != "abc" {
				t.Fatalf("inbox = %+v", inbox)
			}
			return
		}
	}
	t.Fatalf("stream ended: %v", scanner.Err())
}

func TestWebSocket(t *testing.T) {
	b := newFakeBackend()
	ts := newTestServer(t, b)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]any{"type": "refresh", "id": "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "send", "id": "s1", "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "bogus", "id": "x1"}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]wsMessage{}
	gotInbox := false
	for len(seen) < 3 || !gotInbox {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		switch msg.Type {
		case wsTypeInbox:
			gotInbox = true
		case wsTypeResult:
			seen[msg.ID] = msg
		}
	}
	if !seen["r1"].OK || seen["r1"].Inbox == nil {
		t.Errorf("refresh result = %+v", seen["r1"])
	}
	if sent := b.sentRequests(); !seen["s1"].OK || len(sent) != 1 || sent[0].Text != "hi" {
		t.Errorf("send result = %+v sent = %+v", seen["s1"], sent)
	}
	if seen["x1"].OK || !strings.Contains(seen["x1"].Error, "bogus") {
		t.Errorf("bogus result = %+v", seen["x1"])
	}
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, newFakeBackend())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

