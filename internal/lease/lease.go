// Package lease elects a single leader among relay processes sharing a
// lock file. A lease has a TTL that the holder renews on a heartbeat; an
// expired lease may be taken over by anyone. Each takeover increments a
// fencing token that survives release.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	guardRetry      = 10 * time.Millisecond
	guardTimeout    = 2 * time.Second
	guardStaleAfter = 5 * time.Second
)

var (
	// ErrHeld is returned by Acquire while another holder's lease is live.
	ErrHeld = errors.New("lease held by another instance")
	// ErrNotHolder is returned by Renew after the lease was lost.
	ErrNotHolder = errors.New("not the lease holder")
)

// Record is the lock file content.
type Record struct {
	Holder    string    `json:"holder"`
	Token     uint64    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	PID       int       `json:"pid,omitempty"`
}

// Live reports whether the record is held at now.
func (r Record) Live(now time.Time) bool {
	return r.Holder != "" && now.Before(r.ExpiresAt)
}

// Lease is one participant's handle on a lock file.
type Lease struct {
	path   string
	holder string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	token     uint64
	expiresAt time.Time
}

// Option configures a Lease.
type Option func(*Lease)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lease) { l.now = now }
}

// WithHolder sets the holder ID instead of a random UUID.
func WithHolder(id string) Option {
	return func(l *Lease) { l.holder = id }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lease) { l.logger = logger }
}

// New creates a lease handle for path with the given TTL.
func New(path string, ttl time.Duration, opts ...Option) *Lease {
	l := &Lease{
		path:   path,
		holder: uuid.NewString(),
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Holder returns this participant's ID.
func (l *Lease) Holder() string { return l.holder }

// Path returns the lock file path.
func (l *Lease) Path() string { return l.path }

// Token returns the fencing token of the current term, or 0 if not held.
func (l *Lease) Token() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.now().Before(l.expiresAt) {
		return 0
	}
	return l.token
}

// IsLeader reports whether this participant believes it holds the lease.
func (l *Lease) IsLeader() bool {
	return l.Token() != 0
}

// Current reads the lock file. A missing file yields a zero Record.
func (l *Lease) Current() (Record, error) {
	return readRecord(l.path)
}

// Acquire takes the lease if it is vacant, expired, or already ours.
// Taking over from another holder (or from vacancy) starts a new term
// with the next fencing token.
func (l *Lease) Acquire() (uint64, error) {
	var token uint64
	err := l.withGuard(func() error {
		rec, err := readRecord(l.path)
		if err != nil {
			return err
		}
		now := l.now()
		if rec.Live(now) && rec.Holder != l.holder {
			return fmt.Errorf("%w: %s until %s", ErrHeld, rec.Holder, rec.ExpiresAt.Format(time.RFC3339))
		}
		if rec.Holder != l.holder || !rec.Live(now) {
			rec.Token++
		}
		rec.Holder = l.holder
		rec.ExpiresAt = now.Add(l.ttl)
		rec.PID = os.Getpid()
		if err := writeRecord(l.path, rec); err != nil {
			return err
		}
		l.setTerm(rec)
		token = rec.Token
		return nil
	})
	if err == nil {
		l.logger.Debug("lease acquired", "holder", l.holder, "token", token)
	}
	return token, err
}

// Renew extends the current term. It fails with ErrNotHolder when the
// lock file no longer names this holder and token.
func (l *Lease) Renew() error {
	return l.withGuard(func() error {
		rec, err := readRecord(l.path)
		if err != nil {
			return err
		}
		l.mu.Lock()
		token := l.token
		l.mu.Unlock()
		if rec.Holder != l.holder || rec.Token != token || token == 0 {
			l.clearTerm()
			return ErrNotHolder
		}
		rec.ExpiresAt = l.now().Add(l.ttl)
		if err := writeRecord(l.path, rec); err != nil {
			return err
		}
		l.setTerm(rec)
		return nil
	})
}

// Release gives up the lease if still held. The record is kept with no
// holder so the token keeps counting up.
func (l *Lease) Release() error {
	return l.withGuard(func() error {
		rec, err := readRecord(l.path)
		if err != nil {
			return err
		}
		l.mu.Lock()
		token := l.token
		l.mu.Unlock()
		l.clearTerm()
		if rec.Holder != l.holder || rec.Token != token {
			return nil
		}
		rec.Holder = ""
		rec.ExpiresAt = time.Time{}
		rec.PID = 0
		return writeRecord(l.path, rec)
	})
}

// Maintain runs the election loop until ctx is done. As follower it
// retries Acquire every heartbeat; as leader it renews. onChange is
// called on every leadership transition. The lease is released on exit.
func (l *Lease) Maintain(ctx context.Context, heartbeat time.Duration, onChange func(leader bool, token uint64)) error {
	leader := false
	var token uint64
	transition := func(isLeader bool, tok uint64) {
		if isLeader == leader && tok == token {
			return
		}
		leader, token = isLeader, tok
		if onChange != nil {
			onChange(leader, token)
		}
	}

	tick := func() {
		if leader {
			if err := l.Renew(); err != nil {
				l.logger.Warn("lease lost", "holder", l.holder, "err", err)
				transition(false, 0)
			}
			return
		}
		tok, err := l.Acquire()
		switch {
		case err == nil:
			transition(true, tok)
		case errors.Is(err, ErrHeld):
			l.logger.Debug("lease follower", "err", err)
		default:
			l.logger.Warn("lease acquire failed", "err", err)
		}
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	tick()
	for {
		select {
		case <-ctx.Done():
			if leader {
				if err := l.Release(); err != nil {
					l.logger.Warn("lease release failed", "err", err)
				}
				transition(false, 0)
			}
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}

func (l *Lease) setTerm(rec Record) {
	l.mu.Lock()
	l.token = rec.Token
	l.expiresAt = rec.ExpiresAt
	l.mu.Unlock()
}

func (l *Lease) clearTerm() {
	l.mu.Lock()
	l.token = 0
	l.expiresAt = time.Time{}
	l.mu.Unlock()
}

// withGuard serializes read-modify-write of the lock file across
// processes with an O_EXCL guard file.
func (l *Lease) withGuard(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lease dir: %w", err)
	}
	guard := l.path + ".guard"
	start := time.Now()
	for {
		f, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = f.Close()
			defer func() { _ = os.Remove(guard) }()
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("lease guard: %w", err)
		}
		if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > guardStaleAfter {
			_ = os.Remove(guard)
			continue
		}
		if time.Since(start) >= guardTimeout {
			return fmt.Errorf("lease guard: timed out after %s", guardTimeout)
		}
		time.Sleep(guardRetry)
	}
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A torn or foreign file is treated as vacant.
		return Record{}, nil
	}
	return rec, nil
}

func writeRecord(path string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
