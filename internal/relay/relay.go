// Package relay owns the running state of one workspace: the latest
// Inbox, its subscribers, the change detector, and the controller used to
// act on the chat panel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/controller"
	"github.com/wilbur182/chatrelay/internal/fdmonitor"
	"github.com/wilbur182/chatrelay/internal/replywait"
	"github.com/wilbur182/chatrelay/internal/watcher"
)

// ErrNoPendingCommand is returned by Approve when the newest turn is not
// waiting for approval.
var ErrNoPendingCommand = errors.New("no pending command")

// Config configures a Relay.
type Config struct {
	Workspace  string
	Source     adapter.Source
	Controller controller.Controller
	Watch      watcher.Config
	MaxWait    time.Duration
	ReplyPoll  time.Duration
	Logger     *slog.Logger
	FDs        *fdmonitor.Monitor

	// Clock and Sleep are passed to the reply waiter.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// SendRequest asks the relay to submit a message.
type SendRequest struct {
	Text         string        `json:"text"`
	Wait         bool          `json:"wait,omitempty"`
	MaxWait      time.Duration `json:"-"`
	PollInterval time.Duration `json:"-"`
}

// SendResult reports a submission and, when waited for, the reply.
type SendResult struct {
	Submitted   bool              `json:"submitted"`
	SubmittedAt time.Time         `json:"submittedAt"`
	Reply       *replywait.Result `json:"reply,omitempty"`
}

// Leadership is the relay's role under the leader lease.
type Leadership struct {
	Leader bool   `json:"leader"`
	Token  uint64 `json:"token"`
}

// Role returns "leader" or "follower".
func (l Leadership) Role() string {
	if l.Leader {
		return "leader"
	}
	return "follower"
}

// Relay is the single owner of a workspace's live state.
type Relay struct {
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	waiter   *replywait.Coordinator
	detector *watcher.Detector

	mu     sync.RWMutex
	latest *adapter.Inbox
	subs   map[uint64]chan *adapter.Inbox
	nextID uint64
	lead   Leadership
}

// New creates a Relay. Source is required; a nil Controller means
// submit and approve are unsupported.
func New(cfg Config) (*Relay, error) {
	if cfg.Source == nil {
		return nil, errors.New("relay: no session source")
	}
	if cfg.Controller == nil {
		cfg.Controller = controller.Unsupported{}
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = replywait.DefaultMaxWait
	}
	if cfg.ReplyPoll <= 0 {
		cfg.ReplyPoll = replywait.DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := &Relay{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Clock,
		subs:   make(map[uint64]chan *adapter.Inbox),
	}

	waitOpts := []replywait.Option{replywait.WithClock(cfg.Clock), replywait.WithLogger(cfg.Logger)}
	if cfg.Sleep != nil {
		waitOpts = append(waitOpts, replywait.WithSleep(cfg.Sleep))
	}
	r.waiter = replywait.New(cfg.Source, waitOpts...)

	r.detector = watcher.New(cfg.Watch, watcher.Hooks{
		Rebuild: func() (*adapter.Inbox, error) { return cfg.Source.BuildInbox(cfg.Workspace) },
		Publish: r.publish,
		Active:  func() bool { return r.Subscribers() > 0 },
		// The editor may create the workspace's storage after we start.
		SessionDir: func() (string, error) { return cfg.Source.SessionDir(cfg.Workspace) },
		Changed:    r.logChanges,
	}, cfg.Logger, cfg.FDs)
	return r, nil
}

func (r *Relay) logChanges(events []adapter.Event) {
	for _, ev := range events {
		r.logger.Debug("session changed", "type", ev.Type, "session", ev.SessionID)
	}
}

// Workspace returns the workspace root this relay serves.
func (r *Relay) Workspace() string { return r.cfg.Workspace }

// Source returns the session source.
func (r *Relay) Source() adapter.Source { return r.cfg.Source }

// Run performs the initial build and watches for changes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if _, err := r.detector.Refresh(watcher.TriggerInitial); err != nil {
		r.logger.Warn("initial inbox build failed", "err", err)
	}
	return r.detector.Run(ctx)
}

// Inbox returns the current Inbox. While anyone is subscribed the
// detector keeps the published Inbox current and it is returned as is.
// Otherwise the detector is idle and the Inbox is rebuilt from disk.
func (r *Relay) Inbox() (*adapter.Inbox, error) {
	r.mu.RLock()
	latest, subscribed := r.latest, len(r.subs) > 0
	r.mu.RUnlock()
	if latest != nil && subscribed {
		return latest, nil
	}
	return r.Refresh()
}

// Refresh rebuilds and publishes the Inbox now.
func (r *Relay) Refresh() (*adapter.Inbox, error) {
	return r.detector.Refresh(watcher.TriggerRefresh)
}

// publish is the detector's Publish hook.
func (r *Relay) publish(inbox *adapter.Inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = inbox
	for _, ch := range r.subs {
		offer(ch, inbox)
	}
}

// offer delivers inbox, replacing an undelivered older one.
func offer(ch chan *adapter.Inbox, inbox *adapter.Inbox) {
	select {
	case ch <- inbox:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- inbox:
	default:
	}
}

// Subscribe registers for Inbox updates. The channel holds at most one
// undelivered Inbox; slow readers only see the newest. The current Inbox,
// if any, is delivered first. cancel must be called to unsubscribe.
func (r *Relay) Subscribe() (<-chan *adapter.Inbox, func()) {
	ch := make(chan *adapter.Inbox, 1)
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = ch
	if r.latest != nil {
		ch <- r.latest
	}
	n := len(r.subs)
	r.mu.Unlock()
	r.logger.Debug("subscriber added", "id", id, "subscribers", n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Send submits text through the controller. With Wait set it blocks
// until the reply appears or the wait times out.
func (r *Relay) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	submittedAt := r.now()
	if err := r.cfg.Controller.Submit(ctx, req.Text); err != nil {
		return SendResult{}, fmt.Errorf("submit: %w", err)
	}
	res := SendResult{Submitted: true, SubmittedAt: submittedAt}
	r.logger.Info("message submitted", "chars", len(req.Text), "wait", req.Wait)
	if !req.Wait {
		return res, nil
	}

	maxWait := req.MaxWait
	if maxWait <= 0 {
		maxWait = r.cfg.MaxWait
	}
	poll := req.PollInterval
	if poll <= 0 {
		poll = r.cfg.ReplyPoll
	}
	reply := r.waiter.WaitForReply(ctx, r.cfg.Workspace, submittedAt, maxWait, poll)
	res.Reply = &reply
	if reply.Success {
		if _, err := r.Refresh(); err != nil {
			r.logger.Debug("refresh after reply failed", "err", err)
		}
	}
	return res, nil
}

// WaitForReply waits for an assistant reply stamped after `after`.
func (r *Relay) WaitForReply(ctx context.Context, after time.Time, maxWait, poll time.Duration) replywait.Result {
	if maxWait <= 0 {
		maxWait = r.cfg.MaxWait
	}
	if poll <= 0 {
		poll = r.cfg.ReplyPoll
	}
	return r.waiter.WaitForReply(ctx, r.cfg.Workspace, after, maxWait, poll)
}

// PendingCommand finds the pending command on the newest session's last
// assistant message.
func PendingCommand(inbox *adapter.Inbox) *adapter.PendingCommand {
	if inbox == nil || len(inbox.Sessions) == 0 {
		return nil
	}
	msgs := inbox.Sessions[0].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == adapter.RoleAssistant {
			return msgs[i].PendingCommand
		}
	}
	return nil
}

// Approve approves or skips the pending command. The Inbox is rebuilt
// first so the check uses current data.
func (r *Relay) Approve(ctx context.Context, approve bool) (*adapter.PendingCommand, error) {
	inbox, err := r.Refresh()
	if err != nil {
		return nil, err
	}
	pending := PendingCommand(inbox)
	if pending == nil {
		return nil, ErrNoPendingCommand
	}
	if err := r.cfg.Controller.Approve(ctx, approve); err != nil {
		return pending, fmt.Errorf("approve: %w", err)
	}
	r.logger.Info("pending command answered", "approve", approve, "toolCallId", pending.ToolCallID)
	return pending, nil
}

// SetLeadership records the lease state reported by health checks.
func (r *Relay) SetLeadership(l Leadership) {
	r.mu.Lock()
	r.lead = l
	r.mu.Unlock()
}

// Leadership returns the last recorded lease state.
func (r *Relay) Leadership() Leadership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lead
}
