package vscode

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultUserDataDir returns the editor's user data directory for a
// product directory name such as "Code" or "Cursor".
func DefaultUserDataDir(product string) string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", product)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, product)
		}
		return filepath.Join(home, "AppData", "Roaming", product)
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, product)
}

// location is where one workspace's chat data lives.
type location struct {
	hash       string
	storageDir string // workspaceStorage/<hash>, holds state.vscdb
	sessionDir string
}

func (l location) found() bool { return l.sessionDir != "" }

// workspaceFile is workspaceStorage/<hash>/workspace.json.
type workspaceFile struct {
	Folder    string `json:"folder"`
	Workspace string `json:"workspace"`
}

// findWorkspace scans storageRoot for the workspace whose folder (or
// .code-workspace file) URI names workspaceRoot. When several entries
// match, the most recently modified wins. A missing storage root is not
// an error.
func findWorkspace(storageRoot, workspaceRoot string) (location, error) {
	entries, err := os.ReadDir(storageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return location{}, nil
		}
		return location{}, err
	}

	want := canonicalPath(workspaceRoot)
	var best location
	var bestMod time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(storageRoot, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, "workspace.json"))
		if err != nil {
			continue
		}
		var wf workspaceFile
		if err := json.Unmarshal(data, &wf); err != nil {
			continue
		}
		uri := wf.Folder
		if uri == "" {
			uri = wf.Workspace
		}
		if uri == "" || uriPath(uri) != want {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best.found() && !info.ModTime().After(bestMod) {
			continue
		}
		best = location{
			hash:       e.Name(),
			storageDir: dir,
			sessionDir: filepath.Join(dir, "chatSessions"),
		}
		bestMod = info.ModTime()
	}
	return best, nil
}

// uriPath converts a file:// URI to the form canonicalPath produces.
// Non-file URIs (remote workspaces) never match a local path.
func uriPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return canonicalPath(u.Path)
}

// canonicalPath makes local paths and URI paths comparable: forward
// slashes, no "/c:/" leading slash, lower-case drive letter, no trailing
// slash.
func canonicalPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil && !strings.HasPrefix(p, "/") {
		p = abs
	}
	p = normalizePath(p)
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
