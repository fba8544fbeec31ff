// Package watcher decides when a workspace's Inbox must be rebuilt and
// published. Two triggers compose: an fsnotify edge trigger on the session
// directory (debounced, then delayed by a settle period so a file still
// being written is not read half-way) and a fallback poll that publishes
// only when a cheap Inbox fingerprint changed. Both do nothing while there
// are no subscribers.
package watcher
