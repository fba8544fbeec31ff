// Package cache provides a generic thread-safe LRU cache whose entries are
// invalidated when the backing file's size or modification time changes.
package cache
