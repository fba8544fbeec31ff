package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/fdmonitor"
)

const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultSettle       = 150 * time.Millisecond
	DefaultPollInterval = 5 * time.Second
)

// ErrRunning is returned by Run when the detector is already running.
var ErrRunning = errors.New("watcher: already running")

// Config holds configuration for a Detector.
type Config struct {
	// SessionDir is the directory to watch. Empty disables the edge trigger.
	SessionDir string
	// Debounce collapses bursts of file events into one rebuild.
	Debounce time.Duration
	// Settle delays the rebuild after the burst ends.
	Settle time.Duration
	// PollInterval is the fallback poll period. Zero disables polling.
	PollInterval time.Duration
}

// Hooks connect a Detector to the rest of the relay.
type Hooks struct {
	// Rebuild re-derives the Inbox from disk.
	Rebuild func() (*adapter.Inbox, error)
	// Publish delivers an Inbox to subscribers. It runs under the
	// detector's lock and must not block or call back into the Detector.
	Publish func(*adapter.Inbox)
	// Active reports whether anyone is subscribed. Nil means always.
	Active func() bool
	// SessionDir resolves the directory to watch while Config.SessionDir
	// is empty. It is retried until it returns a watchable path.
	SessionDir func() (string, error)
	// Changed receives the coalesced file events behind each edge publish,
	// or a single EventPoll for a poll publish.
	Changed func([]adapter.Event)
}

// Trigger names what caused a rebuild.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerEdge    Trigger = "edge"
	TriggerPoll    Trigger = "poll"
	TriggerRefresh Trigger = "refresh"
)

// Detector rebuilds and publishes the Inbox on file changes and polls.
// Concurrent rebuilds may race; only a result newer than the last
// published one is ever published.
type Detector struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger
	fds    *fdmonitor.Monitor

	mu           sync.Mutex
	running      bool
	started      uint64 // rebuilds started
	published    uint64 // sequence of the last published rebuild
	lastFP       uint64
	hasFP        bool
	debounceTmr  *time.Timer
	settleTmr    *time.Timer
	closed       bool
	edgeTriggers int
	pending      map[string]adapter.Event // by path, since the last edge
}

// New creates a Detector. Zero durations take the package defaults except
// PollInterval, where zero disables polling.
func New(cfg Config, hooks Hooks, logger *slog.Logger, fds *fdmonitor.Monitor) *Detector {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if fds == nil {
		fds = fdmonitor.New(logger)
	}
	return &Detector{cfg: cfg, hooks: hooks, logger: logger, fds: fds}
}

func (d *Detector) active() bool {
	return d.hooks.Active == nil || d.hooks.Active()
}

// Refresh rebuilds and publishes regardless of subscribers and
// fingerprint. It is used for the initial build and on-demand refreshes.
func (d *Detector) Refresh(trigger Trigger) (*adapter.Inbox, error) {
	inbox, _, err := d.rebuild(trigger, false)
	return inbox, err
}

// Poll rebuilds and publishes only when the fingerprint changed since the
// last publish. It reports whether it published.
func (d *Detector) Poll() bool {
	if !d.active() {
		return false
	}
	_, published, _ := d.rebuild(TriggerPoll, true)
	if published && d.hooks.Changed != nil {
		d.hooks.Changed([]adapter.Event{{Type: adapter.EventPoll}})
	}
	return published
}

// rebuild runs one rebuild. When onlyChanged is set and the fingerprint
// matches the last publish, nothing is published.
func (d *Detector) rebuild(trigger Trigger, onlyChanged bool) (*adapter.Inbox, bool, error) {
	d.mu.Lock()
	d.started++
	seq := d.started
	d.mu.Unlock()

	inbox, err := d.hooks.Rebuild()
	if err != nil {
		d.logger.Warn("inbox rebuild failed", "trigger", trigger, "err", err)
		return nil, false, err
	}
	fp := Fingerprint(inbox)

	d.mu.Lock()
	defer d.mu.Unlock()
	if seq < d.published {
		d.logger.Debug("dropping stale rebuild", "trigger", trigger, "seq", seq, "published", d.published)
		return inbox, false, nil
	}
	if onlyChanged && d.hasFP && fp == d.lastFP {
		d.logger.Debug("inbox unchanged", "trigger", trigger)
		return inbox, false, nil
	}
	d.published = seq
	d.lastFP, d.hasFP = fp, true
	d.logger.Debug("publishing inbox", "trigger", trigger, "sessions", len(inbox.Sessions), "messages", inbox.TotalMessages)
	if d.hooks.Publish != nil {
		d.hooks.Publish(inbox)
	}
	return inbox, true, nil
}

// Run watches until ctx is canceled. A session directory that does not
// exist yet is retried on every poll tick.
func (d *Detector) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	d.running = true
	d.closed = false
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.closed = true
		stopTimer(d.debounceTmr)
		stopTimer(d.settleTmr)
		d.mu.Unlock()
	}()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	var retryC <-chan time.Time
	if !d.addWatch(fw) {
		retry := time.NewTicker(d.retryInterval())
		defer retry.Stop()
		retryC = retry.C
	}

	var pollC <-chan time.Time
	if d.cfg.PollInterval > 0 {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isSessionEvent(event) {
				continue
			}
			d.noteEvent(toEvent(event))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			d.logger.Debug("fsnotify error", "err", err)

		case <-retryC:
			if d.addWatch(fw) {
				retryC = nil
			}

		case <-pollC:
			d.fds.Check("watcher poll")
			d.Poll()
		}
	}
}

func (d *Detector) retryInterval() time.Duration {
	if d.cfg.PollInterval > 0 {
		return d.cfg.PollInterval
	}
	return DefaultPollInterval
}

// addWatch watches the session directory, resolving it first when it is
// not known yet. Only Run calls it, so cfg.SessionDir needs no lock.
func (d *Detector) addWatch(fw *fsnotify.Watcher) bool {
	if d.cfg.SessionDir == "" && d.hooks.SessionDir != nil {
		dir, err := d.hooks.SessionDir()
		if err != nil {
			d.logger.Debug("session dir not resolvable yet", "err", err)
			return false
		}
		d.cfg.SessionDir = dir
	}
	if d.cfg.SessionDir == "" {
		return false
	}
	if err := fw.Add(d.cfg.SessionDir); err != nil {
		d.logger.Debug("session dir not watchable yet", "dir", d.cfg.SessionDir, "err", err)
		return false
	}
	d.logger.Debug("watching session dir", "dir", d.cfg.SessionDir)
	return true
}

func isSessionEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".json", ".jsonl":
		return true
	}
	return false
}

// toEvent maps a file event to a session event. Session files are named
// after the session ID.
func toEvent(event fsnotify.Event) adapter.Event {
	base := filepath.Base(event.Name)
	ev := adapter.Event{
		Type:      adapter.EventSessionUpdated,
		SessionID: strings.TrimSuffix(base, filepath.Ext(base)),
		Path:      event.Name,
	}
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		ev.Type = adapter.EventSessionRemoved
	case event.Op&fsnotify.Create != 0:
		ev.Type = adapter.EventSessionCreated
	}
	return ev
}

// mergeEvent folds next into the event already pending for the same path.
func mergeEvent(prev, next adapter.Event) adapter.Event {
	switch {
	case next.Type == adapter.EventSessionRemoved:
		return next
	case prev.Type == adapter.EventSessionCreated:
		return prev
	case prev.Type == adapter.EventSessionRemoved && next.Type == adapter.EventSessionCreated:
		next.Type = adapter.EventSessionUpdated
	}
	return next
}

// noteEvent records ev and restarts the debounce window. When it expires
// the settle delay runs, then the edge rebuild.
func (d *Detector) noteEvent(ev adapter.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.pending == nil {
		d.pending = make(map[string]adapter.Event)
	}
	if prev, ok := d.pending[ev.Path]; ok {
		ev = mergeEvent(prev, ev)
	}
	d.pending[ev.Path] = ev
	stopTimer(d.debounceTmr)
	stopTimer(d.settleTmr)
	d.debounceTmr = time.AfterFunc(d.cfg.Debounce, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return
		}
		d.settleTmr = time.AfterFunc(d.cfg.Settle, d.fireEdge)
	})
}

func (d *Detector) fireEdge() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.edgeTriggers++
	events := make([]adapter.Event, 0, len(d.pending))
	for _, ev := range d.pending {
		events = append(events, ev)
	}
	d.pending = nil
	d.mu.Unlock()

	if !d.active() {
		d.logger.Debug("skipping edge rebuild, no subscribers", "events", len(events))
		return
	}
	_, published, _ := d.rebuild(TriggerEdge, false)
	if published && d.hooks.Changed != nil {
		sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
		d.hooks.Changed(events)
	}
}

// EdgeTriggers returns how many debounced edge triggers fired.
func (d *Detector) EdgeTriggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.edgeTriggers
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
