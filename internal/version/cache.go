package version

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheFile = "version_cache.json"
	cacheTTL  = 3 * time.Hour
)

// CacheEntry stores cached version check result.
type CacheEntry struct {
	LatestVersion  string    `json:"latestVersion"`
	CurrentVersion string    `json:"currentVersion"`
	UpdateURL      string    `json:"updateUrl,omitempty"`
	CheckedAt      time.Time `json:"checkedAt"`
	HasUpdate      bool      `json:"hasUpdate"`
}

// CachePath returns the cache file inside dir.
func CachePath(dir string) string {
	return filepath.Join(dir, cacheFile)
}

// LoadCache reads a cached version check result from path.
func LoadCache(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SaveCache writes a version check result to path.
func SaveCache(path string, entry *CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IsCacheValid checks if cache exists and is not expired.
// Also invalidates if user version changed (upgrade or downgrade).
func IsCacheValid(entry *CacheEntry, currentVersion string, now time.Time) bool {
	if entry == nil {
		return false
	}
	if entry.CurrentVersion != currentVersion {
		return false
	}
	return now.Sub(entry.CheckedAt) < cacheTTL
}

// CheckCached returns a cached result when fresh, otherwise checks and
// refreshes the cache. Cache write failures are ignored.
func (c *Checker) CheckCached(ctx context.Context, path, currentVersion string, now time.Time) CheckResult {
	if entry, err := LoadCache(path); err == nil && IsCacheValid(entry, currentVersion, now) {
		return CheckResult{
			CurrentVersion: currentVersion,
			LatestVersion:  entry.LatestVersion,
			UpdateURL:      entry.UpdateURL,
			HasUpdate:      entry.HasUpdate,
		}
	}

	result := c.Check(ctx, currentVersion)
	if result.Error == nil && result.LatestVersion != "" {
		_ = SaveCache(path, &CacheEntry{
			LatestVersion:  result.LatestVersion,
			CurrentVersion: currentVersion,
			UpdateURL:      result.UpdateURL,
			CheckedAt:      now,
			HasUpdate:      result.HasUpdate,
		})
	}
	return result
}
