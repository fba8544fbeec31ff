// Package version checks GitHub for newer chatrelay releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	repoOwner = "wilbur182"
	repoName  = "chatrelay"
	apiURL    = "https://api.github.com/repos/%s/%s/releases/latest"
)

// Release represents a GitHub release response.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// CheckResult holds the result of a version check.
type CheckResult struct {
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion,omitempty"`
	UpdateURL      string `json:"updateUrl,omitempty"`
	HasUpdate      bool   `json:"hasUpdate"`
	Error          error  `json:"-"`
}

// Checker fetches release information.
type Checker struct {
	// URL is the latest-release endpoint.
	URL    string
	Client *http.Client
}

// NewChecker returns a Checker for the chatrelay repository.
func NewChecker() *Checker {
	return &Checker{
		URL:    fmt.Sprintf(apiURL, repoOwner, repoName),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Check fetches the latest release and compares it with currentVersion.
// Development builds are never reported as outdated.
func (c *Checker) Check(ctx context.Context, currentVersion string) CheckResult {
	result := CheckResult{CurrentVersion: currentVersion}
	if isDevelopmentVersion(currentVersion) {
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		result.Error = err
		return result
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.Client.Do(req)
	if err != nil {
		result.Error = err
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("github api: %s", resp.Status)
		return result
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		result.Error = err
		return result
	}

	result.LatestVersion = release.TagName
	result.UpdateURL = release.HTMLURL
	result.HasUpdate = isNewer(release.TagName, currentVersion)
	return result
}

// isDevelopmentVersion returns true for non-release versions.
func isDevelopmentVersion(v string) bool {
	return v == "" || v == "unknown" || v == "devel" || strings.HasPrefix(v, "devel+")
}

// isNewer reports whether latest is a higher vMAJOR.MINOR.PATCH than
// current. Pre-release suffixes are ignored.
func isNewer(latest, current string) bool {
	l, ok1 := parseSemver(latest)
	c, ok2 := parseSemver(current)
	if !ok1 || !ok2 {
		return false
	}
	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

func parseSemver(v string) ([3]int, bool) {
	var out [3]int
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	v, _, _ = strings.Cut(v, "-")
	v, _, _ = strings.Cut(v, "+")
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
