package vscode

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/adapter/cache"
	"github.com/wilbur182/chatrelay/internal/chatlog"
)

const (
	// maxFileSize bounds a single session file read.
	maxFileSize = 256 << 20
	// titleRunes is the length of a title derived from the first message.
	titleRunes   = 80
	defaultTitle = "New Chat"
	cacheEntries = 512
)

// Product identifies an editor build that writes chat sessions.
type Product struct {
	ID   string // source ID
	Name string // display name
	Dir  string // user data directory name
}

var products = []Product{
	{ID: "vscode", Name: "VS Code", Dir: "Code"},
	{ID: "vscode-insiders", Name: "VS Code Insiders", Dir: "Code - Insiders"},
	{ID: "vscodium", Name: "VSCodium", Dir: "VSCodium"},
	{ID: "cursor", Name: "Cursor", Dir: "Cursor"},
}

// Products lists the known editor builds.
func Products() []Product {
	return append([]Product(nil), products...)
}

// LookupProduct finds a product by ID or directory name.
func LookupProduct(name string) (Product, bool) {
	for _, p := range products {
		if strings.EqualFold(p.ID, name) || strings.EqualFold(p.Dir, name) {
			return p, true
		}
	}
	return Product{}, false
}

// sessionResult is the cached outcome of reading one session file.
type sessionResult struct {
	session      *adapter.ChatSession // nil when the file has no messages
	firstUser    string
	linesSkipped int
	untitled     int
	unknown      map[string]int
	err          error
}

// titleIndex caches the parsed state.vscdb index by fingerprint.
type titleIndex struct {
	path   string
	fp     cache.Fingerprint
	titles map[string]string
}

var _ adapter.Source = (*Adapter)(nil)

// Adapter reads chat sessions written by a VS Code family editor.
type Adapter struct {
	product     Product
	userDataDir string
	sessionDir  string
	titles      bool
	extractor   Extractor
	logger      *slog.Logger
	now         func() time.Time

	cache   *cache.Cache[sessionResult]
	indexMu sync.Mutex
	index   titleIndex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
		a.extractor.Logger = l
	}
}

// WithUserDataDir overrides the editor's user data directory.
func WithUserDataDir(dir string) Option {
	return func(a *Adapter) { a.userDataDir = dir }
}

// WithSessionDir reads sessions from dir instead of discovering the
// workspace's storage directory.
func WithSessionDir(dir string) Option {
	return func(a *Adapter) { a.sessionDir = dir }
}

// WithTimeline toggles ChatMessage.Timeline.
func WithTimeline(on bool) Option {
	return func(a *Adapter) { a.extractor.Timeline = on }
}

// WithTitleIndex toggles reading titles from state.vscdb.
func WithTitleIndex(on bool) Option {
	return func(a *Adapter) { a.titles = on }
}

// WithClock sets the clock used for Inbox.LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New creates an adapter for a product ID or directory name. Unknown
// names are used as the user data directory name.
func New(name string, opts ...Option) *Adapter {
	p, ok := LookupProduct(name)
	if !ok {
		p = Product{ID: strings.ToLower(strings.ReplaceAll(name, " ", "-")), Name: name, Dir: name}
	}
	logger := slog.New(slog.DiscardHandler)
	a := &Adapter{
		product:   p,
		titles:    true,
		extractor: Extractor{Logger: logger, Timeline: true},
		logger:    logger,
		now:       time.Now,
		cache:     cache.New[sessionResult](cacheEntries),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.userDataDir == "" {
		a.userDataDir = DefaultUserDataDir(p.Dir)
	}
	return a
}

// ID returns the source identifier.
func (a *Adapter) ID() string { return a.product.ID }

// Name returns the human-readable source name.
func (a *Adapter) Name() string { return a.product.Name }

// Detect reports whether the workspace has a session directory with at
// least one session file.
func (a *Adapter) Detect(workspaceRoot string) (bool, error) {
	loc, err := a.locate(workspaceRoot)
	if err != nil || !loc.found() {
		return false, err
	}
	entries, err := os.ReadDir(loc.sessionDir)
	if err != nil {
		return false, nil
	}
	for _, e := range entries {
		if !e.IsDir() && isSessionFile(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// SessionDir returns the workspace's session directory, or "" when the
// editor has no storage for it.
func (a *Adapter) SessionDir(workspaceRoot string) (string, error) {
	loc, err := a.locate(workspaceRoot)
	if err != nil {
		return "", err
	}
	return loc.sessionDir, nil
}

func (a *Adapter) locate(workspaceRoot string) (location, error) {
	if a.sessionDir != "" {
		storage := filepath.Dir(a.sessionDir)
		return location{hash: filepath.Base(storage), storageDir: storage, sessionDir: a.sessionDir}, nil
	}
	loc, err := findWorkspace(filepath.Join(a.userDataDir, "User", "workspaceStorage"), workspaceRoot)
	if err != nil {
		return location{}, fmt.Errorf("find workspace storage: %w", err)
	}
	return loc, nil
}

func isSessionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl":
		return true
	}
	return false
}

// ListSessions returns the workspace's sessions with at least one message,
// newest first.
func (a *Adapter) ListSessions(workspaceRoot string) ([]adapter.ChatSession, error) {
	inbox, err := a.BuildInbox(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return inbox.Sessions, nil
}

// BuildInbox re-derives the Inbox from the files currently on disk. A
// missing session directory yields an empty Inbox. Unreadable files are
// listed in Inbox.Skipped and never abort the build.
func (a *Adapter) BuildInbox(workspaceRoot string) (*adapter.Inbox, error) {
	inbox := &adapter.Inbox{
		WorkspacePath: workspaceRoot,
		Sessions:      []adapter.ChatSession{},
		LastUpdated:   a.now(),
	}

	loc, err := a.locate(workspaceRoot)
	if err != nil {
		return nil, err
	}
	inbox.WorkspaceHash = loc.hash
	if !loc.found() {
		return inbox, nil
	}

	entries, err := os.ReadDir(loc.sessionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return inbox, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	titles := a.titleIndex(loc)
	seen := make(map[string]struct{}, len(entries))
	byID := make(map[string]int)
	modTimes := make(map[string]time.Time)

	for _, e := range entries {
		if e.IsDir() || !isSessionFile(e.Name()) {
			continue
		}
		path := filepath.Join(loc.sessionDir, e.Name())
		seen[path] = struct{}{}
		inbox.Stats.FilesScanned++

		info, err := e.Info()
		if err != nil {
			inbox.Stats.FilesSkipped++
			inbox.Skipped = append(inbox.Skipped, adapter.SkippedFile{Path: path, Reason: err.Error()})
			continue
		}

		res := a.readSession(path, cache.FingerprintOf(info))
		inbox.Stats.LinesSkipped += res.linesSkipped
		inbox.Stats.UntitledTools += res.untitled
		for kind, n := range res.unknown {
			if inbox.Stats.UnknownItemKinds == nil {
				inbox.Stats.UnknownItemKinds = make(map[string]int)
			}
			inbox.Stats.UnknownItemKinds[kind] += n
		}
		if res.err != nil {
			inbox.Stats.FilesSkipped++
			inbox.Skipped = append(inbox.Skipped, adapter.SkippedFile{Path: path, Reason: res.err.Error()})
			continue
		}
		if res.session == nil {
			continue
		}

		session := *res.session
		session.Title = resolveTitle(session.Title, titles[session.SessionID], res.firstUser)

		// A session rewritten from .json to .jsonl can briefly exist as
		// both; the most recently written file wins.
		if i, dup := byID[session.SessionID]; dup {
			if !info.ModTime().After(modTimes[session.SessionID]) {
				continue
			}
			inbox.Sessions[i] = session
		} else {
			byID[session.SessionID] = len(inbox.Sessions)
			inbox.Sessions = append(inbox.Sessions, session)
		}
		modTimes[session.SessionID] = info.ModTime()
	}
	a.cache.Retain(seen)

	sort.SliceStable(inbox.Sessions, func(i, j int) bool {
		return inbox.Sessions[i].LastMessageAt.After(inbox.Sessions[j].LastMessageAt)
	})
	for _, s := range inbox.Sessions {
		inbox.TotalMessages += s.MessageCount
	}
	return inbox, nil
}

// readSession returns the cached result for an unchanged file, else
// decodes and extracts it.
func (a *Adapter) readSession(path string, fp cache.Fingerprint) sessionResult {
	if res, ok := a.cache.Get(path, fp); ok {
		return res
	}
	res := a.parseSessionFile(path, fp)
	if res.err != nil {
		a.logger.Warn("skipping session file", "file", path, "err", res.err)
	}
	a.cache.Set(path, res, fp)
	return res
}

func (a *Adapter) parseSessionFile(path string, fp cache.Fingerprint) sessionResult {
	if fp.Size > maxFileSize {
		return sessionResult{err: fmt.Errorf("session file too large: %d bytes", fp.Size)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionResult{err: err}
	}

	lineDelimited := strings.EqualFold(filepath.Ext(path), ".jsonl")
	doc, report, err := chatlog.Decode(data, lineDelimited)
	for _, skipped := range report.Skipped {
		a.logger.Debug("skipped session line", "file", path, "line", skipped.Line, "err", skipped.Err)
	}
	res := sessionResult{linesSkipped: len(report.Skipped)}
	if err != nil {
		res.err = err
		return res
	}

	x := a.extractor.Extract(doc)
	res.untitled = x.UntitledTools
	res.unknown = x.UnknownKinds
	if len(x.Messages) == 0 {
		return res
	}

	hdr := sessionHeader(doc)
	session := &adapter.ChatSession{
		SessionID:    hdr.SessionID,
		FilePath:     path,
		Title:        strings.TrimSpace(hdr.CustomTitle),
		CreatedAt:    hdr.CreationDate.Time,
		Messages:     x.Messages,
		MessageCount: len(x.Messages),
		LastModel:    x.LastModel,
	}
	if session.SessionID == "" {
		session.SessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	session.LastMessageAt = lastMessageAt(session)
	res.session = session

	for _, m := range x.Messages {
		if m.Role == adapter.RoleUser {
			res.firstUser = m.Text
			break
		}
	}
	return res
}

// lastMessageAt is the final message's timestamp, or the creation time
// when there is none.
func lastMessageAt(s *adapter.ChatSession) time.Time {
	if n := len(s.Messages); n > 0 && !s.Messages[n-1].Timestamp.IsZero() {
		return s.Messages[n-1].Timestamp
	}
	return s.CreatedAt
}

// resolveTitle picks the custom title, then the editor's index title,
// then the first user message.
func resolveTitle(custom, indexed, firstUser string) string {
	if custom != "" {
		return custom
	}
	if indexed != "" {
		return indexed
	}
	first := strings.Join(strings.Fields(firstUser), " ")
	if first == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(first) > titleRunes {
		runes := []rune(first)
		return strings.TrimSpace(string(runes[:titleRunes-1])) + "…"
	}
	return first
}

// titleIndex returns the workspace's state.vscdb titles, re-reading the
// database only when it changed.
func (a *Adapter) titleIndex(loc location) map[string]string {
	if !a.titles || loc.storageDir == "" {
		return nil
	}
	dbPath := filepath.Join(loc.storageDir, "state.vscdb")
	fp, err := cache.Stat(dbPath)
	if err != nil {
		return nil
	}

	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	if a.index.path == dbPath && a.index.fp.Equal(fp) {
		return a.index.titles
	}
	titles, err := readTitleIndex(dbPath)
	if err != nil {
		a.logger.Debug("title index unavailable", "db", dbPath, "err", err)
	}
	a.index = titleIndex{path: dbPath, fp: fp, titles: titles}
	return titles
}
