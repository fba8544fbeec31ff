// Package fdmonitor watches the process's open file descriptor count so a
// leaking watcher or database handle shows up in the log before the
// process hits its limit.
package fdmonitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const (
	// DefaultWarningThreshold is the FD count that triggers a warning.
	DefaultWarningThreshold = 200
	// DefaultCriticalThreshold is the FD count that triggers an error.
	DefaultCriticalThreshold = 500
	// MinCheckInterval prevents checking too frequently.
	MinCheckInterval = 10 * time.Second
)

// Monitor rate-limits FD checks and logs threshold breaches.
type Monitor struct {
	Warning  int
	Critical int
	Interval time.Duration

	logger *slog.Logger
	count  func() int
	now    func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	lastCount int
}

// New creates a Monitor with default thresholds. A nil logger discards.
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{
		Warning:  DefaultWarningThreshold,
		Critical: DefaultCriticalThreshold,
		Interval: MinCheckInterval,
		logger:   logger,
		count:    Count,
		now:      time.Now,
	}
}

// fdDir returns the directory listing this process's descriptors.
func fdDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "/dev/fd"
	case "linux":
		return fmt.Sprintf("/proc/%d/fd", os.Getpid())
	}
	return ""
}

// Count returns the current number of open file descriptors for this
// process, or -1 where that cannot be determined.
func Count() int {
	dir := fdDir()
	if dir == "" {
		return -1
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return -1
	}
	return len(entries)
}

// Check reads the FD count at most once per Interval and logs when it
// crosses a threshold. where names the caller for the log line.
func (m *Monitor) Check(where string) (count int, warned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.Interval {
		return m.lastCount, false
	}

	count = m.count()
	if count < 0 {
		return count, false
	}
	m.lastCheck = now
	m.lastCount = count

	switch {
	case count >= m.Critical:
		m.logger.Error("critical FD count", "count", count, "threshold", m.Critical, "where", where)
		m.logger.Debug("FD breakdown", "categories", DebugInfo())
		return count, true
	case count >= m.Warning:
		m.logger.Warn("high FD count", "count", count, "threshold", m.Warning, "where", where)
		return count, true
	}
	return count, false
}

// DebugInfo groups open descriptors by what they point at.
func DebugInfo() map[string]int {
	info := make(map[string]int)
	dir := fdDir()
	if dir == "" {
		return info
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return info
	}

	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		info[category(target)]++
	}
	return info
}

func category(target string) string {
	switch {
	case target == "pipe" || target == "anon_inode:[pipe]":
		return "pipe"
	case target == "anon_inode:inotify" || target == "anon_inode:[eventpoll]":
		return "watcher"
	case target == "socket" || len(target) > 0 && target[0] == '[' || len(target) > 7 && target[:7] == "socket:":
		return "socket"
	}
	switch filepath.Ext(target) {
	case ".jsonl", ".json":
		return "session"
	case ".vscdb", ".db", ".sqlite":
		return "database"
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return "directory"
	}
	return "file"
}
