package vscode

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/adapter/testutil"
)

func qa(ts time.Time, question, answer string) testutil.Request {
	return testutil.Request{
		Text:      question,
		Timestamp: ts,
		ModelID:   "copilot/gpt-4o",
		Response:  []map[string]any{testutil.Markdown(answer)},
	}
}

func writeSession(t *testing.T, dir, name string, s testutil.Session) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var err error
	if strings.HasSuffix(name, ".jsonl") {
		err = testutil.WriteJSONL(path, s)
	} else {
		err = testutil.WriteJSON(path, s)
	}
	if err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newSessionDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ws1", "chatSessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}

func TestBuildInboxMissingDirectory(t *testing.T) {
	a := New("Code", WithUserDataDir(t.TempDir()))
	inbox, err := a.BuildInbox("/no/such/workspace")
	if err != nil {
		t.Fatalf("BuildInbox: %v", err)
	}
	if inbox.Sessions == nil || len(inbox.Sessions) != 0 || inbox.TotalMessages != 0 {
		t.Fatalf("inbox = %+v, want empty", inbox)
	}

	a = New("Code", WithSessionDir(filepath.Join(t.TempDir(), "missing", "chatSessions")))
	inbox, err = a.BuildInbox("/w")
	if err != nil || len(inbox.Sessions) != 0 {
		t.Fatalf("BuildInbox = %+v, %v", inbox, err)
	}
}

func TestBuildInboxFiltersAndSorts(t *testing.T) {
	dir := newSessionDir(t)
	writeSession(t, dir, "a.jsonl", testutil.Session{SessionID: "a", CreationDate: t0, Requests: []testutil.Request{qa(t0.Add(100*time.Second), "q1", "r1")}})
	writeSession(t, dir, "b.jsonl", testutil.Session{SessionID: "b", CreationDate: t0, Requests: []testutil.Request{qa(t0.Add(300*time.Second), "q2", "r2")}})
	writeSession(t, dir, "c.json", testutil.Session{SessionID: "c", CreationDate: t0, Requests: []testutil.Request{
		qa(t0.Add(50*time.Second), "q3", "r3"),
		qa(t0.Add(200*time.Second), "q4", "r4"),
	}})
	writeSession(t, dir, "empty.jsonl", testutil.Session{SessionID: "empty", CreationDate: t0.Add(time.Hour)})
	if err := os.WriteFile(filepath.Join(dir, "garbage.jsonl"), []byte("not json\nstill not\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New("Code", WithSessionDir(dir), WithClock(func() time.Time { return now }))
	inbox, err := a.BuildInbox("/w")
	if err != nil {
		t.Fatalf("BuildInbox: %v", err)
	}

	var ids []string
	for _, s := range inbox.Sessions {
		ids = append(ids, s.SessionID)
	}
	if got := strings.Join(ids, ","); got != "b,c,a" {
		t.Fatalf("session order = %s, want b,c,a", got)
	}
	if inbox.TotalMessages != 8 {
		t.Errorf("TotalMessages = %d, want 8", inbox.TotalMessages)
	}
	if inbox.WorkspaceHash != "ws1" {
		t.Errorf("WorkspaceHash = %q, want ws1", inbox.WorkspaceHash)
	}
	if !inbox.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v", inbox.LastUpdated)
	}
	if len(inbox.Skipped) != 1 || filepath.Base(inbox.Skipped[0].Path) != "garbage.jsonl" {
		t.Errorf("Skipped = %+v", inbox.Skipped)
	}
	if inbox.Stats.FilesScanned != 5 || inbox.Stats.FilesSkipped != 1 || inbox.Stats.LinesSkipped != 2 {
		t.Errorf("Stats = %+v", inbox.Stats)
	}

	c := inbox.Sessions[1]
	if c.MessageCount != 4 || !c.LastMessageAt.Equal(t0.Add(200*time.Second)) || c.LastModel != "copilot/gpt-4o" {
		t.Errorf("session c = %+v", c)
	}
	if !c.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v", c.CreatedAt)
	}

	sessions, err := a.ListSessions("/w")
	if err != nil || len(sessions) != 3 {
		t.Fatalf("ListSessions = %d, %v", len(sessions), err)
	}
}

func TestBuildInboxSeesAppendedRequests(t *testing.T) {
	dir := newSessionDir(t)
	path := writeSession(t, dir, "s.jsonl", testutil.Session{SessionID: "s", CreationDate: t0, Requests: []testutil.Request{qa(t0, "first", "one")}})

	a := New("Code", WithSessionDir(dir))
	inbox, err := a.BuildInbox("/w")
	if err != nil || inbox.TotalMessages != 2 {
		t.Fatalf("first build = %+v, %v", inbox, err)
	}

	next := qa(t0.Add(time.Minute), "second", "two")
	if err := testutil.AppendOps(path, map[string]any{"kind": 2, "k": []any{"requests"}, "v": []any{next.Map()}}); err != nil {
		t.Fatal(err)
	}
	inbox, err = a.BuildInbox("/w")
	if err != nil {
		t.Fatal(err)
	}
	if inbox.TotalMessages != 4 {
		t.Fatalf("TotalMessages = %d, want 4", inbox.TotalMessages)
	}
	if got := inbox.Sessions[0].Messages[3].Text; got != "two" {
		t.Fatalf("last message = %q", got)
	}
}

func TestDuplicateSessionPrefersNewestFile(t *testing.T) {
	dir := newSessionDir(t)
	oldPath := writeSession(t, dir, "s.json", testutil.Session{SessionID: "s", CreationDate: t0, Requests: []testutil.Request{qa(t0, "old", "old")}})
	newPath := writeSession(t, dir, "s.jsonl", testutil.Session{SessionID: "s", CreationDate: t0, Requests: []testutil.Request{qa(t0, "new", "new")}})
	if err := os.Chtimes(oldPath, t0, t0); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(newPath, t0.Add(time.Hour), t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	inbox, err := New("Code", WithSessionDir(dir)).BuildInbox("/w")
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox.Sessions) != 1 || inbox.Sessions[0].FilePath != newPath {
		t.Fatalf("sessions = %+v", inbox.Sessions)
	}
	if inbox.TotalMessages != 2 {
		t.Fatalf("TotalMessages = %d, want 2", inbox.TotalMessages)
	}
}

func writeTitleIndex(t *testing.T, dbPath string, titles map[string]string) {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ItemTable (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	entries := map[string]any{}
	for id, title := range titles {
		entries[id] = map[string]any{"sessionId": id, "title": title, "lastMessageDate": 0}
	}
	value, _ := json.Marshal(map[string]any{"version": 1, "entries": entries})
	if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES (?, ?)`, titleIndexKey, value); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestSessionTitles(t *testing.T) {
	dir := newSessionDir(t)
	long := strings.Repeat("word ", 30)
	writeSession(t, dir, "custom.json", testutil.Session{SessionID: "custom", CustomTitle: "Pinned", Requests: []testutil.Request{qa(t0, "q", "a")}})
	writeSession(t, dir, "indexed.json", testutil.Session{SessionID: "indexed", Requests: []testutil.Request{qa(t0, "q", "a")}})
	writeSession(t, dir, "long.json", testutil.Session{SessionID: "long", Requests: []testutil.Request{qa(t0, long, "a")}})
	writeSession(t, dir, "blank.json", testutil.Session{SessionID: "blank", Requests: []testutil.Request{{Timestamp: t0, Response: []map[string]any{testutil.Markdown("only reply")}}}})
	writeTitleIndex(t, filepath.Join(filepath.Dir(dir), "state.vscdb"), map[string]string{
		"indexed": "From index",
		"custom":  "Not used",
	})

	titles := func(a *Adapter) map[string]string {
		inbox, err := a.BuildInbox("/w")
		if err != nil {
			t.Fatal(err)
		}
		out := map[string]string{}
		for _, s := range inbox.Sessions {
			out[s.SessionID] = s.Title
		}
		return out
	}

	got := titles(New("Code", WithSessionDir(dir)))
	if got["custom"] != "Pinned" {
		t.Errorf("custom title = %q", got["custom"])
	}
	if got["indexed"] != "From index" {
		t.Errorf("indexed title = %q", got["indexed"])
	}
	if n := len([]rune(got["long"])); n != titleRunes || !strings.HasSuffix(got["long"], "…") {
		t.Errorf("long title = %q (%d runes)", got["long"], n)
	}
	if got["blank"] != defaultTitle {
		t.Errorf("blank title = %q", got["blank"])
	}

	got = titles(New("Code", WithSessionDir(dir), WithTitleIndex(false)))
	if got["indexed"] != "q" {
		t.Errorf("title with index disabled = %q, want q", got["indexed"])
	}
}

func TestWorkspaceDiscovery(t *testing.T) {
	userData := t.TempDir()
	root := filepath.Join(t.TempDir(), "my project")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	storage := filepath.Join(userData, "User", "workspaceStorage")
	mkWorkspace := func(hash, folder string) string {
		dir := filepath.Join(storage, hash)
		if err := os.MkdirAll(filepath.Join(dir, "chatSessions"), 0o755); err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(map[string]string{"folder": folder})
		if err := os.WriteFile(filepath.Join(dir, "workspace.json"), data, 0o644); err != nil {
			t.Fatal(err)
		}
		return filepath.Join(dir, "chatSessions")
	}
	mkWorkspace("other", "file:///somewhere/else")
	mkWorkspace("remote", "vscode-remote://ssh-remote+box"+filepath.ToSlash(root))
	sessions := mkWorkspace("abc123", "file://"+strings.ReplaceAll(filepath.ToSlash(root), " ", "%20"))

	a := New("Code", WithUserDataDir(userData))
	if ok, _ := a.Detect(root); ok {
		t.Fatalf("Detect = true before any session exists")
	}
	writeSession(t, sessions, "s.jsonl", testutil.Session{SessionID: "s", Requests: []testutil.Request{qa(t0, "hi", "hello")}})

	if ok, err := a.Detect(root); !ok || err != nil {
		t.Fatalf("Detect = %v, %v", ok, err)
	}
	dir, err := a.SessionDir(root)
	if err != nil || dir != sessions {
		t.Fatalf("SessionDir = %q, %v; want %q", dir, err, sessions)
	}
	inbox, err := a.BuildInbox(root + string(filepath.Separator))
	if err != nil {
		t.Fatal(err)
	}
	if inbox.WorkspaceHash != "abc123" || len(inbox.Sessions) != 1 {
		t.Fatalf("inbox = %+v", inbox)
	}
}

func TestProducts(t *testing.T) {
	for _, name := range []string{"Code", "vscode", "Code - Insiders", "cursor"} {
		if _, ok := LookupProduct(name); !ok {
			t.Errorf("LookupProduct(%q) not found", name)
		}
	}
	if a := New("Cursor"); a.ID() != "cursor" || a.Name() != "Cursor" {
		t.Errorf("New(Cursor) = %s/%s", a.ID(), a.Name())
	}
	if a := New("Custom Build"); a.ID() != "custom-build" {
		t.Errorf("ID = %q", a.ID())
	}
	if !slices.Contains(adapter.RegisteredIDs(), "vscode-insiders") {
		t.Errorf("vscode-insiders not registered")
	}
}
